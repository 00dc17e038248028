// Package device tracks the devices of a workspace and issues the session
// tokens they sync with.
//
// Every plan caps the number of active devices. RegisterDevice counts the
// active sessions and inserts the new one atomically, so concurrent
// registrations cannot push a workspace past its limit. Re-registering a
// device that is already active reuses its slot.
//
// Tokens are HS256 JWTs signed with a key derived from the configured secret.
// An expired token can be exchanged for a fresh one during a grace period;
// after that the device has to register again. Only the latest token of a
// session can be refreshed:
//
//	reg, err := device.NewRegistry(device.NewPGStore(pool), subscriptions, cfg)
//	tok, err := reg.RegisterDevice(ctx, workspaceID, device.Registration{DeviceID: id})
//	next, err := reg.RefreshDevice(ctx, workspaceID, tok.Value)
//
// SweepInactive deactivates sessions that have been offline for longer than
// the configured maximum and is meant to run as a scheduled job.
package device
