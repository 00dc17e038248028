// Package usage tracks per-workspace resource counters against plan quotas.
//
// Monthly counters (invoices, orders, api calls, sms, emails) are tied to a
// calendar period marker such as "2025-03"; cumulative counters (customers,
// products, members, devices, storage) follow create and delete events.
// The limit check and the increment are one atomic store operation, so
// concurrent requests can never push a counter past its hard limit:
//
//	tracker := usage.NewTracker(usage.NewRedisStore(client, "usage"), subscriptions)
//	if _, err := tracker.IncrementUsage(ctx, workspaceID, subscription.ResourceInvoices, 1); err != nil {
//		var limitErr *usage.LimitError
//		if errors.As(err, &limitErr) {
//			// render an upgrade prompt with limitErr.Current and limitErr.Limit
//		}
//		return err
//	}
package usage
