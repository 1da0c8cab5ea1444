package bundle

import (
	"context"
	"fmt"

	"github.com/phiacta/phiacta/errors"
	"github.com/phiacta/phiacta/store"
)

// Validation error codes carried in field-level detail.
const (
	CodeEmptyBundle      = "EMPTY_BUNDLE"
	CodeTooManyClaims    = "TOO_MANY_CLAIMS"
	CodeEmptyContent     = "EMPTY_CONTENT"
	CodeEmptyType        = "EMPTY_TYPE"
	CodeDuplicateTempID  = "DUP_TEMP_ID"
	CodeUnknownEdgeType  = "UNKNOWN_EDGE_TYPE"
	CodeTempIDUnresolved = "TEMP_ID_UNRESOLVED"
	CodeAmbiguousRef     = "AMBIGUOUS_REF"
	CodeExternalSource   = "EXTERNAL_SOURCE_REF"
	CodeBadStrength      = "STRENGTH_OUT_OF_RANGE"
	CodeMissingURI       = "MISSING_URI"
)

// validate checks the bundle's structure against the store's registries.
// Every problem is accumulated as a field error; a non-empty list fails
// the whole bundle. Unknown claim ids, unknown edge types and unresolved
// temp ids are all caller-fixable, so everything is collected in one pass
// rather than failing at the first problem.
func (p *Pipeline) validate(ctx context.Context, payload *Payload) error {
	var fields []errors.FieldError
	add := func(field, code, format string, args ...any) {
		fields = append(fields, errors.FieldError{
			Field:   field,
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if len(payload.Claims) == 0 && len(payload.Edges) == 0 && len(payload.Artifacts) == 0 {
		add("claims", CodeEmptyBundle, "bundle contains no claims, edges or artifacts")
		return errors.NewValidationError(fields)
	}
	if max := p.cfg.MaxClaims; max > 0 && len(payload.Claims) > max {
		add("claims", CodeTooManyClaims, "bundle carries %d claims, limit is %d", len(payload.Claims), max)
	}

	tempIDs := make(map[string]struct{}, len(payload.Claims))
	for i, c := range payload.Claims {
		field := fmt.Sprintf("claims[%d]", i)
		if c.Content == "" {
			add(field+".content", CodeEmptyContent, "claim content must not be empty")
		}
		if c.ClaimType == "" {
			add(field+".claim_type", CodeEmptyType, "claim type must not be empty")
		}
		if c.TempID == "" {
			add(field+".temp_id", CodeTempIDUnresolved, "claim must carry a temp id")
			continue
		}
		if _, dup := tempIDs[c.TempID]; dup {
			add(field+".temp_id", CodeDuplicateTempID, "temp id %q used more than once", c.TempID)
		}
		tempIDs[c.TempID] = struct{}{}
	}

	edgeTypes, err := p.store.EdgeTypeMap(ctx)
	if err != nil {
		return err
	}

	for i, e := range payload.Edges {
		field := fmt.Sprintf("edges[%d]", i)
		if _, ok := edgeTypes[e.EdgeType]; !ok {
			add(field+".edge_type", CodeUnknownEdgeType, "edge type %q is not registered", e.EdgeType)
		}
		if e.Strength != nil && (*e.Strength < 0 || *e.Strength > 1) {
			add(field+".strength", CodeBadStrength, "strength %.3f outside [0,1]", *e.Strength)
		}

		if e.Source.ExternalRef != "" {
			// Pending references hang off a stored source claim; an
			// external far end is only representable on the target.
			add(field+".source", CodeExternalSource, "edge source cannot be an external reference")
		} else if err := p.checkRef(ctx, e.Source, tempIDs, field+".source", add); err != nil {
			return err
		}
		if err := p.checkRef(ctx, e.Target, tempIDs, field+".target", add); err != nil {
			return err
		}
	}

	for i, a := range payload.Artifacts {
		field := fmt.Sprintf("artifacts[%d]", i)
		if a.URI == "" {
			add(field+".uri", CodeMissingURI, "artifact uri must not be empty")
		}
		for j, ref := range a.Claims {
			refField := fmt.Sprintf("%s.claims[%d]", field, j)
			if ref.ExternalRef != "" {
				add(refField, CodeExternalSource, "artifact links cannot use external references")
				continue
			}
			if err := p.checkRef(ctx, ref, tempIDs, refField, add); err != nil {
				return err
			}
		}
	}

	if len(fields) > 0 {
		return errors.NewValidationError(fields)
	}
	return nil
}

// checkRef validates one reference against the bundle's temp ids and the
// store. External references are accepted here; commit defers them.
func (p *Pipeline) checkRef(ctx context.Context, ref Ref, tempIDs map[string]struct{}, field string, add func(field, code, format string, args ...any)) error {
	switch {
	case ref.IsZero():
		add(field, CodeTempIDUnresolved, "reference is empty")
	case ref.setCount() > 1:
		add(field, CodeAmbiguousRef, "reference must set exactly one of temp_id, claim_id, external_ref")
	case ref.TempID != "":
		if _, ok := tempIDs[ref.TempID]; !ok {
			add(field, CodeTempIDUnresolved, "temp id %q does not resolve to a claim in this bundle", ref.TempID)
		}
	case ref.ClaimID != "":
		exists, err := store.ClaimExists(ctx, p.store.DB(), ref.ClaimID)
		if err != nil {
			return err
		}
		if !exists {
			add(field, CodeTempIDUnresolved, "claim %q does not exist", ref.ClaimID)
		}
	}
	return nil
}
