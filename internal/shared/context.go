package shared

import "context"

// Actor identifies who triggered a stock mutation. Ledger rows record it.
type Actor struct {
	ID   string
	Name string
}

type actorContextKey struct{}

// ContextWithActor stores the acting user in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting user, falling back to the system actor.
func ActorFromContext(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorContextKey{}).(Actor); ok && actor.Name != "" {
		return actor
	}
	return Actor{Name: "sistema"}
}
