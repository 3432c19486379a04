// Package condition evaluates condition node specs against member data.
package condition

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"golang.org/x/text/cases"
)

var (
	// ErrInvalidCondition indicates a malformed condition spec.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrMissingData indicates the member record lacks data the condition needs.
	ErrMissingData = errors.New("missing member data")
)

// Check validates a spec's kind and operands without evaluating it.
func Check(spec models.ConditionSpec) error {
	switch spec.Kind {
	case models.ConditionTagExists, models.ConditionTagNotExists:
		return requireOperand(spec.Kind, "tag", spec.Tag)
	case models.ConditionFieldEquals, models.ConditionFieldContains,
		models.ConditionFieldStartsWith, models.ConditionFieldEndsWith:
		return requireOperand(spec.Kind, "field", spec.Field)
	case models.ConditionEmailOpened:
		return requireOperand(spec.Kind, "template_ref", spec.TemplateRef)
	case models.ConditionLinkClicked:
		return requireOperand(spec.Kind, "url", spec.URL)
	case models.ConditionProductPurchased:
		return requireOperand(spec.Kind, "product", spec.Product)
	case models.ConditionEventOccurred:
		return requireOperand(spec.Kind, "event", spec.Event)
	case models.ConditionAbandonedCart:
		if spec.CartTimeout <= 0 {
			return fmt.Errorf("%w: %s requires a positive cart_timeout", ErrInvalidCondition, spec.Kind)
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCondition, spec.Kind)
	}
}

func requireOperand(kind models.ConditionKind, name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidCondition, kind, name)
	}

	return nil
}

// Evaluate decides a condition for a member. It has no side effects; now is
// only consulted by time-windowed kinds. Text comparisons are
// case-insensitive under Unicode case folding.
func Evaluate(spec models.ConditionSpec, member *models.Member, interactions []models.Interaction, now time.Time) (bool, error) {
	if err := Check(spec); err != nil {
		return false, err
	}

	if member == nil {
		return false, fmt.Errorf("%w: member record", ErrMissingData)
	}

	switch spec.Kind {
	case models.ConditionTagExists:
		return hasTag(member, spec.Tag), nil
	case models.ConditionTagNotExists:
		return !hasTag(member, spec.Tag), nil
	case models.ConditionFieldEquals, models.ConditionFieldContains,
		models.ConditionFieldStartsWith, models.ConditionFieldEndsWith:
		return compareField(spec, member)
	case models.ConditionEmailOpened:
		return occurred(interactions, models.InteractionEmailOpened, spec.TemplateRef, false), nil
	case models.ConditionLinkClicked:
		return occurred(interactions, models.InteractionLinkClicked, spec.URL, false), nil
	case models.ConditionProductPurchased:
		return occurred(interactions, models.InteractionPurchase, spec.Product, true), nil
	case models.ConditionEventOccurred:
		return occurred(interactions, models.InteractionCustom, spec.Event, true), nil
	case models.ConditionAbandonedCart:
		return abandonedCart(interactions, time.Duration(spec.CartTimeout)*time.Minute, now), nil
	}

	return false, fmt.Errorf("%w: unknown kind %q", ErrInvalidCondition, spec.Kind)
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func hasTag(member *models.Member, tag string) bool {
	want := fold(tag)

	for _, t := range member.Tags {
		if fold(t) == want {
			return true
		}
	}

	return false
}

func compareField(spec models.ConditionSpec, member *models.Member) (bool, error) {
	value, ok := lookupField(member, spec.Field)
	if !ok {
		return false, fmt.Errorf("%w: field %q", ErrMissingData, spec.Field)
	}

	got, want := fold(value), fold(spec.Value)

	switch spec.Kind {
	case models.ConditionFieldEquals:
		return got == want, nil
	case models.ConditionFieldContains:
		return strings.Contains(got, want), nil
	case models.ConditionFieldStartsWith:
		return strings.HasPrefix(got, want), nil
	default:
		return strings.HasSuffix(got, want), nil
	}
}

// lookupField resolves custom fields first, then the built-in email column.
func lookupField(member *models.Member, name string) (string, bool) {
	if v, ok := member.Fields[name]; ok {
		return v, true
	}

	if name == "email" && member.Email != "" {
		return member.Email, true
	}

	return "", false
}

// occurred matches interaction refs exactly, or case-folded when loose is set
// (product and event names are typed by humans, template refs and urls are not).
func occurred(interactions []models.Interaction, kind models.InteractionKind, ref string, loose bool) bool {
	for _, in := range interactions {
		if in.Kind != kind {
			continue
		}

		if in.Ref == ref || (loose && fold(in.Ref) == fold(ref)) {
			return true
		}
	}

	return false
}

// abandonedCart is true once the most recent cart start is older than timeout
// and no checkout completed inside [start, start+timeout].
func abandonedCart(interactions []models.Interaction, timeout time.Duration, now time.Time) bool {
	var (
		start time.Time
		found bool
	)

	for _, in := range interactions {
		if in.Kind != models.InteractionCartStarted {
			continue
		}

		if !found || in.At.After(start) {
			start = in.At
			found = true
		}
	}

	if !found {
		return false
	}

	deadline := start.Add(timeout)
	if now.Before(deadline) {
		return false
	}

	for _, in := range interactions {
		if in.Kind != models.InteractionCheckoutCompleted {
			continue
		}

		if !in.At.Before(start) && !in.At.After(deadline) {
			return false
		}
	}

	return true
}
