package oidc

import (
	"fmt"

	"github.com/hashicorp/vault/sdk/helper/base62"
)

// NewID generates an ID with an optional prefix. The ID generated is suitable
// for a Request's state value or nonce.
func NewID(opt ...Option) (string, error) {
	const op = "oidc.NewID"
	opts := getIDOpts(opt...)
	id, err := base62.Random(20)
	if err != nil {
		return "", NewError(ErrIDGeneratorFailed, WithOp(op), WithKind(ErrInternal), WithMsg("unable to generate id"), WithWrap(err))
	}
	switch {
	case opts.withPrefix != "":
		return fmt.Sprintf("%s_%s", opts.withPrefix, id), nil
	default:
		return id, nil
	}
}

// idOptions is the set of available options for NewID.
type idOptions struct {
	withPrefix string
}

func idDefaults() idOptions {
	return idOptions{}
}

func getIDOpts(opt ...Option) idOptions {
	opts := idDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrefix provides an optional prefix for a generated ID.
func WithPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*idOptions); ok {
			o.withPrefix = prefix
		}
	}
}
