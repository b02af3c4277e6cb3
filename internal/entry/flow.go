package entry

import (
	"context"
	"fmt"
	"strings"
)

// Create runs the user step of the config flow: validate, dedupe by unique
// id, persist and set up.
func (m *Manager) Create(ctx context.Context, domain string, input map[string]string) (FlowOutcome, error) {
	h, err := m.handler(domain)
	if err != nil {
		return FlowOutcome{}, err
	}
	input = trimInput(input)

	result, err := h.ValidateInput(ctx, input)
	if err != nil {
		return FlowOutcome{}, &FlowError{Key: flowErrorKey(err), Err: err}
	}
	if _, exists := m.findUnique(domain, result.UniqueID); exists {
		return FlowOutcome{Type: OutcomeAbort, Reason: AbortAlreadyConfigured}, nil
	}

	data := result.Data
	if data == nil {
		data = input
	}
	e := Entry{
		ID:       newEntryID(),
		Domain:   domain,
		Title:    result.Title,
		UniqueID: result.UniqueID,
		Data:     data,
		State:    StateNotLoaded,
	}
	if err := m.add(e); err != nil {
		return FlowOutcome{}, fmt.Errorf("persist entry: %w", err)
	}
	m.log.WithField("entry_id", e.ID).WithField("title", e.Title).Info("entry created")

	if err := m.Setup(ctx, e.ID); err != nil {
		m.log.WithError(err).WithField("entry_id", e.ID).Warn("new entry did not load")
	}
	created, _ := m.Get(e.ID)
	return FlowOutcome{Type: OutcomeCreateEntry, Entry: &created}, nil
}

// Reauth runs the reauth step: new credentials for an existing entry are
// validated, stored and the entry reloaded.
func (m *Manager) Reauth(ctx context.Context, id string, input map[string]string) (FlowOutcome, error) {
	current, ok := m.Get(id)
	if !ok {
		return FlowOutcome{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	h, err := m.handler(current.Domain)
	if err != nil {
		return FlowOutcome{}, err
	}

	merged := current.clone().Data
	for k, v := range trimInput(input) {
		merged[k] = v
	}
	// The stored token belongs to the old credentials.
	delete(merged, DataAuthToken)

	result, err := h.ValidateInput(ctx, merged)
	if err != nil {
		return FlowOutcome{}, &FlowError{Key: flowErrorKey(err), Err: err}
	}
	if current.UniqueID != "" && result.UniqueID != current.UniqueID {
		return FlowOutcome{Type: OutcomeAbort, Reason: AbortWrongAccount}, nil
	}

	data := result.Data
	if data == nil {
		data = merged
	}
	if err := m.UpdateData(id, data); err != nil {
		return FlowOutcome{}, err
	}
	if err := m.Reload(ctx, id); err != nil {
		m.log.WithError(err).WithField("entry_id", id).Warn("reload after reauth failed")
	}
	return FlowOutcome{Type: OutcomeAbort, Reason: AbortReauthSuccessful}, nil
}

func trimInput(input map[string]string) map[string]string {
	out := make(map[string]string, len(input))
	for k, v := range input {
		if k == DataPassword {
			out[k] = v
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}
