//go:build !gst

package gstlaunch

import (
	"context"

	"github.com/cyclopcam/logs"
)

// Native is unavailable in this build; rebuild with -tags gst
type Native struct{}

// NewNative always fails without the gst build tag
func NewNative(log logs.Log) (*Native, error) {
	return nil, ErrNativeUnavailable
}

func (n *Native) Name() string {
	return "go-gst"
}

func (n *Native) Start(ctx context.Context, desc string, opts StartOptions) (*Process, error) {
	return nil, ErrNativeUnavailable
}
