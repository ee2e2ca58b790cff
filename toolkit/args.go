package toolkit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
)

// ErrInvalidArgument marks arguments rejected before reaching the agent.
var ErrInvalidArgument = errors.New("invalid arguments")

const cheqdPrefix = "did:cheqd:"

func checkNetwork(field, n string) error {
	if !did.ValidNetwork(n) {
		return fmt.Errorf("%w: %s must be one of testnet, mainnet (got %q)", ErrInvalidArgument, field, n)
	}
	return nil
}

func checkCheqdDID(field, s string) error {
	if !strings.HasPrefix(s, cheqdPrefix) {
		return fmt.Errorf("%w: %s must start with %q", ErrInvalidArgument, field, cheqdPrefix)
	}
	return nil
}

// checkResourceID accepts DID URLs of DID-linked resources, the form of
// schema and credential definition ids.
func checkResourceID(field, s string) error {
	if err := checkCheqdDID(field, s); err != nil {
		return err
	}
	if !strings.Contains(s, "/resources/") {
		return fmt.Errorf("%w: %s must be a DID URL containing /resources/", ErrInvalidArgument, field)
	}
	return nil
}

func checkRequired(field, s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgument, field)
	}
	return nil
}

// firstErr returns the first non-nil error.
func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
