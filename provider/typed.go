package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kleeedolinux/rpcprovider/jsonrpc"
)

// Call sends method with params and decodes the result into T.
func Call[T any](ctx context.Context, p Provider, method string, params ...any) (T, error) {
	var out T

	raw, err := p.Send(ctx, method, params)
	if err != nil {
		return out, err
	}
	if err := jsonrpc.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", method, err)
	}
	return out, nil
}

// SubscribeAs is Subscribe with every push decoded into T before fn sees it.
func SubscribeAs[T any](ctx context.Context, p Provider, typ, method string, params []any, fn func(err error, value T)) (int, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}

	return p.Subscribe(ctx, typ, method, params, func(err error, raw json.RawMessage) {
		var out T
		if err != nil {
			fn(err, out)
			return
		}
		if err := jsonrpc.Unmarshal(raw, &out); err != nil {
			fn(fmt.Errorf("decode %s push: %w", method, err), out)
			return
		}
		fn(nil, out)
	})
}
