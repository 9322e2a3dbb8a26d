package resolver

import "context"

type clientAddrKey struct{}

// WithClientAddr records the querying client's address so decorators further
// down the chain (the query log) can attribute the query.
func WithClientAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientAddrKey{}, addr)
}

// ClientAddr returns the recorded client address, or "" when the query did
// not come through one of the local listeners.
func ClientAddr(ctx context.Context) string {
	addr, _ := ctx.Value(clientAddrKey{}).(string)
	return addr
}
