package downgrade

import "fmt"

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic during reconciliation: %v", p.value)
}
