// Package builtin provides the stock tools registered by the server.
package builtin

import "conduit/internal/tools"

// RegisterBuiltins registers the stock tools.
func RegisterBuiltins(r *tools.Registry) error {
	for _, t := range []tools.Tool{NewShellTool()} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
