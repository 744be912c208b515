package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/michalmalinowski87/photovault/internal/common"
)

// CollisionAction is the caller's policy for a name that already exists in
// the gallery.
type CollisionAction int

const (
	// ActionStop aborts the entire pending batch. Nothing already admitted
	// is rolled back, but nothing further is credentialed.
	ActionStop CollisionAction = iota
	// ActionSkip drops just the colliding file.
	ActionSkip
	// ActionReplace proceeds with the same key; the overwrite is guarded by
	// the completion record's supersede-by-etag rule.
	ActionReplace
	// ActionDuplicate proceeds under a disambiguated name.
	ActionDuplicate
)

// CollisionChoice is one user decision, optionally extended to every later
// collision in the same batch.
type CollisionChoice struct {
	Action     CollisionAction
	ApplyToAll bool
}

// CollisionPrompter asks the user what to do about one colliding name. It
// is invoked at most once per batch when the first choice has ApplyToAll.
type CollisionPrompter interface {
	Prompt(ctx context.Context, fileName string) (CollisionChoice, error)
}

// Resolution is the outcome for a single candidate name.
type Resolution struct {
	// FileName is the name to proceed with; for ActionDuplicate it differs
	// from the candidate.
	FileName string
	// Skip marks the file as dropped from the batch.
	Skip bool
}

// CollisionResolver applies the collision policy for one upload batch. It
// consults a single authoritative listing fetched once per batch and tracks
// names it has handed out, so duplicates never re-collide within the batch.
// Not safe for concurrent use; a resolver belongs to one batch.
type CollisionResolver struct {
	taken    map[string]struct{}
	prompter CollisionPrompter
	applied  *CollisionAction
}

func NewCollisionResolver(existingNames []string, prompter CollisionPrompter) *CollisionResolver {
	taken := make(map[string]struct{}, len(existingNames))
	for _, n := range existingNames {
		taken[n] = struct{}{}
	}
	return &CollisionResolver{taken: taken, prompter: prompter}
}

// Resolve decides the fate of one candidate name, prompting when needed.
func (r *CollisionResolver) Resolve(ctx context.Context, candidate string) (Resolution, error) {

	if _, exists := r.taken[candidate]; !exists {
		r.taken[candidate] = struct{}{}
		return Resolution{FileName: candidate}, nil
	}

	action, err := r.choose(ctx, candidate)
	if err != nil {
		return Resolution{}, err
	}

	switch action {
	case ActionStop:
		return Resolution{}, fmt.Errorf("%w: %s", common.ErrBatchStopped, candidate)
	case ActionSkip:
		return Resolution{Skip: true}, nil
	case ActionReplace:
		return Resolution{FileName: candidate}, nil
	case ActionDuplicate:
		name := r.dedupe(candidate)
		r.taken[name] = struct{}{}
		return Resolution{FileName: name}, nil
	default:
		return Resolution{}, fmt.Errorf("unknown collision action: %d", action)
	}
}

func (r *CollisionResolver) choose(ctx context.Context, candidate string) (CollisionAction, error) {
	if r.applied != nil {
		return *r.applied, nil
	}
	if r.prompter == nil {
		return ActionStop, nil
	}

	choice, err := r.prompter.Prompt(ctx, candidate)
	if err != nil {
		return ActionStop, err
	}
	if choice.ApplyToAll {
		action := choice.Action
		r.applied = &action
	}
	return choice.Action, nil
}

// dedupe inserts " (n)" before the extension, picking the smallest n ≥ 2
// free in both the authoritative listing and this batch.
func (r *CollisionResolver) dedupe(candidate string) string {
	ext := path.Ext(candidate)
	stem := strings.TrimSuffix(candidate, ext)

	for n := 2; ; n++ {
		name := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, exists := r.taken[name]; !exists {
			return name
		}
	}
}
