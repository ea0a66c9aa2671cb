package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"

	"pinchmarket/internal/model"
)

// HashCredential maps an opaque agent credential to its stored identity
// hash. Deterministic so the hash can serve as a lookup key; the raw
// credential is never persisted or logged.
func HashCredential(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Resolve authenticates a raw credential against the agent table.
func (s *Service) Resolve(ctx context.Context, credential string) (*model.Agent, error) {
	if credential == "" {
		return nil, model.E(model.KindValidation, "credential required")
	}
	agent, err := s.store.GetAgentByCredentialHash(ctx, HashCredential(credential))
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "lookup agent", err)
	}
	if agent == nil {
		return nil, model.E(model.KindNotFound, "agent not found")
	}
	return agent, nil
}

// Register creates an agent with the starting balance. The insert is a
// single atomic creation: if either uniqueness check fails, no row is left
// behind. The pre-checks give precise conflict messages; the store's unique
// constraints close the race window.
func (s *Service) Register(ctx context.Context, req model.RegisterReq) (*model.RegisterResult, error) {
	name := strings.TrimSpace(req.Name)
	if len(name) < model.MinNameLen || len(name) > model.MaxNameLen {
		return nil, model.Ef(model.KindValidation, "name must be %d-%d characters",
			model.MinNameLen, model.MaxNameLen)
	}
	if req.Credential == "" {
		return nil, model.E(model.KindValidation, "credential required")
	}

	hash := HashCredential(req.Credential)

	existing, err := s.store.GetAgentByCredentialHash(ctx, hash)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "lookup agent", err)
	}
	if existing != nil {
		return nil, model.E(model.KindConflict, "agent already registered")
	}

	byName, err := s.store.GetAgentByName(ctx, name)
	if err != nil {
		return nil, model.Wrap(model.KindStoreFailure, "lookup name", err)
	}
	if byName != nil {
		return nil, model.E(model.KindConflict, "name taken")
	}

	agent, err := s.store.InsertAgent(ctx, name, hash, model.StartingBalance)
	if err != nil {
		if model.IsKind(err, model.KindConflict) {
			return nil, err
		}
		return nil, model.Wrap(model.KindStoreFailure, "insert agent", err)
	}

	if err := s.store.AppendEvent(ctx, "agent_registered", &agent.ID, nil, map[string]any{
		"name": agent.Name,
	}); err != nil {
		log.Printf("[ledger] event append failed: %v", err)
	}

	log.Printf("[ledger] new agent registered: %s", agent.Name)
	return &model.RegisterResult{AgentID: agent.ID, Balance: agent.Balance}, nil
}
