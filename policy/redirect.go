package policy

import (
	"fmt"

	"github.com/syssam/gqlcache/value"
)

// RedirectToEntity returns a read policy resolving a root field such as
// article(id) to the stored entity typename:args[idArg]. Entities that are
// not in the store are never guessed.
func RedirectToEntity(typename, idArg string) Policy {
	return Funcs{OnRead: func(existing value.Value, ctx ReadContext) value.Value {
		if !value.IsNull(existing) || ctx.Helpers == nil {
			return existing
		}
		id, ok := argString(ctx.Args, idArg)
		if !ok {
			return existing
		}
		ref, ok := ctx.Helpers.ToReference(typename, id)
		if !ok {
			return existing
		}
		return ref
	}}
}

// RedirectToField returns a read policy resolving a root field such as
// comments(articleId, last, before) to the field of the same name stored on
// typename:args[idArg], read with the remaining arguments. If the entity
// or its field are missing, existing is returned unchanged.
func RedirectToField(typename, idArg, field string, argNames ...string) Policy {
	return Funcs{OnRead: func(existing value.Value, ctx ReadContext) value.Value {
		if !value.IsNull(existing) || ctx.Helpers == nil {
			return existing
		}
		id, ok := argString(ctx.Args, idArg)
		if !ok {
			return existing
		}
		ref, ok := ctx.Helpers.ToReference(typename, id)
		if !ok {
			return existing
		}
		args := make(map[string]any, len(argNames))
		for _, name := range argNames {
			if v, ok := ctx.Args[name]; ok {
				args[name] = v
			}
		}
		v, ok := ctx.Helpers.ReadField(ref, field, args)
		if !ok {
			return existing
		}
		return v
	}}
}

func argString(args map[string]any, name string) (string, bool) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	if s, ok := value.ScalarOf(v); ok {
		return value.AsString(s)
	}
	return fmt.Sprint(v), true
}
