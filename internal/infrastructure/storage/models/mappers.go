package models

import (
	"encoding/json"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/google/uuid"
)

// graphToJSONB serializes a canonical graph into the tagged wire shape
// domain.MarshalValue/domain.UnmarshalValue round-trip, suitable for a
// JSONB column. Round-tripping through this shape (rather than a generic
// json.Marshal of domain.Graph) is required because Node.Params holds the
// Value interface, which has no generic JSON encoding of its own.
func graphToJSONB(g *domain.Graph) (JSONBMap, error) {
	if g == nil {
		return make(JSONBMap), nil
	}
	nodes := make([]JSONBMap, len(g.Nodes))
	for i, n := range g.Nodes {
		params := make(JSONBMap, len(n.Params))
		for k, v := range n.Params {
			raw, err := domain.MarshalValue(v)
			if err != nil {
				return nil, err
			}
			var decoded interface{}
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return nil, err
			}
			params[k] = decoded
		}
		nodes[i] = JSONBMap{
			"id":             n.ID,
			"role":           string(n.Role),
			"app":            n.App,
			"operation":      n.Operation,
			"nodeType":       n.NodeType,
			"params":         params,
			"authRef":        n.AuthRef,
			"inlineCreds":    map[string]any(n.InlineCreds),
			"position":       JSONBMap{"x": n.Position.X, "y": n.Position.Y},
			"metadata":       n.Metadata,
			"outputMetadata": n.OutputMetadata,
		}
	}
	edges := make([]JSONBMap, len(g.Edges))
	for i, e := range g.Edges {
		edges[i] = JSONBMap{
			"id":           e.ID,
			"source":       e.Source,
			"target":       e.Target,
			"sourceHandle": e.SourceHandle,
			"targetHandle": e.TargetHandle,
			"label":        e.Label,
			"dataType":     e.DataType,
		}
	}
	return JSONBMap{"nodes": nodes, "edges": edges}, nil
}

// graphFromJSONB is the inverse of graphToJSONB.
func graphFromJSONB(m JSONBMap) (*domain.Graph, error) {
	if len(m) == 0 {
		return &domain.Graph{}, nil
	}
	bytes, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, err
	}
	var raw struct {
		Nodes []struct {
			ID             string                 `json:"id"`
			Role           string                 `json:"role"`
			App            string                 `json:"app"`
			Operation      string                 `json:"operation"`
			NodeType       string                 `json:"nodeType"`
			Params         map[string]interface{} `json:"params"`
			AuthRef        string                 `json:"authRef"`
			InlineCreds    map[string]interface{} `json:"inlineCreds"`
			Position       struct{ X, Y float64 } `json:"position"`
			Metadata       map[string]interface{} `json:"metadata"`
			OutputMetadata map[string]interface{} `json:"outputMetadata"`
		} `json:"nodes"`
		Edges []struct {
			ID           string `json:"id"`
			Source       string `json:"source"`
			Target       string `json:"target"`
			SourceHandle string `json:"sourceHandle"`
			TargetHandle string `json:"targetHandle"`
			Label        string `json:"label"`
			DataType     string `json:"dataType"`
		} `json:"edges"`
	}
	if err := json.Unmarshal(bytes, &raw); err != nil {
		return nil, err
	}
	g := &domain.Graph{
		Nodes: make([]*domain.Node, len(raw.Nodes)),
		Edges: make([]*domain.Edge, len(raw.Edges)),
	}
	for i, rn := range raw.Nodes {
		params := make(map[string]domain.Value, len(rn.Params))
		for k, v := range rn.Params {
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			val, err := domain.UnmarshalValue(encoded)
			if err != nil {
				return nil, err
			}
			params[k] = val
		}
		g.Nodes[i] = &domain.Node{
			ID:             rn.ID,
			Role:           domain.NodeRole(rn.Role),
			App:            rn.App,
			Operation:      rn.Operation,
			NodeType:       rn.NodeType,
			Params:         params,
			AuthRef:        rn.AuthRef,
			InlineCreds:    domain.Credentials(rn.InlineCreds),
			Position:       domain.Position{X: rn.Position.X, Y: rn.Position.Y},
			Metadata:       rn.Metadata,
			OutputMetadata: rn.OutputMetadata,
		}
	}
	for i, re := range raw.Edges {
		g.Edges[i] = &domain.Edge{
			ID:           re.ID,
			Source:       re.Source,
			Target:       re.Target,
			SourceHandle: re.SourceHandle,
			TargetHandle: re.TargetHandle,
			Label:        re.Label,
			DataType:     re.DataType,
		}
	}
	return g, nil
}

// WorkflowToModel converts a domain workflow into its storage row. Returns
// an error only if the graph contains a Value this package doesn't know how
// to serialize.
func WorkflowToModel(wf *domain.Workflow) (*WorkflowModel, error) {
	graphJSON, err := graphToJSONB(wf.Graph)
	if err != nil {
		return nil, err
	}
	id := uuid.Nil
	if wf.ID != "" {
		id, err = uuid.Parse(wf.ID)
		if err != nil {
			return nil, err
		}
	}
	return &WorkflowModel{
		ID:        id,
		Name:      wf.Name,
		Version:   wf.Version,
		Graph:     graphJSON,
		Metadata:  JSONBMap(wf.Metadata),
		CreatedAt: wf.CreatedAt,
		UpdatedAt: wf.UpdatedAt,
	}, nil
}

// WorkflowFromModel is the inverse of WorkflowToModel.
func WorkflowFromModel(m *WorkflowModel) (*domain.Workflow, error) {
	graph, err := graphFromJSONB(m.Graph)
	if err != nil {
		return nil, err
	}
	return &domain.Workflow{
		ID:        m.ID.String(),
		Name:      m.Name,
		Version:   m.Version,
		Metadata:  map[string]any(m.Metadata),
		Graph:     graph,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// RevisionToModel converts a domain revision into its storage row.
func RevisionToModel(rev *domain.Revision) (*RevisionModel, error) {
	graphJSON, err := graphToJSONB(rev.Graph)
	if err != nil {
		return nil, err
	}
	id := uuid.Nil
	if rev.ID != "" {
		id, err = uuid.Parse(rev.ID)
		if err != nil {
			return nil, err
		}
	}
	workflowID, err := uuid.Parse(rev.WorkflowID)
	if err != nil {
		return nil, err
	}
	return &RevisionModel{
		ID:          id,
		WorkflowID:  workflowID,
		Environment: string(rev.Environment),
		Graph:       graphJSON,
		Metadata:    JSONBMap(rev.Metadata),
		PublishedAt: rev.PublishedAt,
	}, nil
}

// RevisionFromModel is the inverse of RevisionToModel.
func RevisionFromModel(m *RevisionModel) (*domain.Revision, error) {
	graph, err := graphFromJSONB(m.Graph)
	if err != nil {
		return nil, err
	}
	return &domain.Revision{
		ID:          m.ID.String(),
		WorkflowID:  m.WorkflowID.String(),
		Environment: domain.Environment(m.Environment),
		Graph:       graph,
		Metadata:    map[string]any(m.Metadata),
		PublishedAt: m.PublishedAt,
	}, nil
}

// RunToModel converts a domain run into its storage row.
func RunToModel(run *domain.Run) (*RunModel, error) {
	id := uuid.Nil
	var err error
	if run.ID != "" {
		id, err = uuid.Parse(run.ID)
		if err != nil {
			return nil, err
		}
	}
	workflowID, err := uuid.Parse(run.WorkflowID)
	if err != nil {
		return nil, err
	}
	revisionID, err := uuid.Parse(run.RevisionID)
	if err != nil {
		return nil, err
	}
	return &RunModel{
		ID:            id,
		WorkflowID:    workflowID,
		RevisionID:    revisionID,
		OrgID:         run.OrgID,
		Trigger:       string(run.Trigger),
		InitialInput:  JSONBMap(run.InitialInput),
		ConnectorApp:  run.ConnectorApp,
		Status:        string(run.Status),
		CorrelationID: run.CorrelationID,
		StartedAt:     run.StartedAt,
		EndedAt:       run.EndedAt,
	}, nil
}

// RunFromModel is the inverse of RunToModel.
func RunFromModel(m *RunModel) *domain.Run {
	return &domain.Run{
		ID:            m.ID.String(),
		WorkflowID:    m.WorkflowID.String(),
		RevisionID:    m.RevisionID.String(),
		OrgID:         m.OrgID,
		Trigger:       domain.TriggerKind(m.Trigger),
		InitialInput:  map[string]any(m.InitialInput),
		ConnectorApp:  m.ConnectorApp,
		Status:        domain.RunStatus(m.Status),
		CorrelationID: m.CorrelationID,
		StartedAt:     m.StartedAt,
		EndedAt:       m.EndedAt,
	}
}

// NodeExecutionToModel converts a domain node execution into its storage
// row.
func NodeExecutionToModel(ne *domain.NodeExecution) (*NodeExecutionModel, error) {
	runID, err := uuid.Parse(ne.RunID)
	if err != nil {
		return nil, err
	}
	history := make(JSONBArray, len(ne.RetryHistory))
	for i, att := range ne.RetryHistory {
		history[i] = map[string]interface{}{
			"attempt":   att.Attempt,
			"errorKind": string(att.ErrorKind),
			"message":   att.Message,
			"at":        att.At,
		}
	}
	diagnostics := JSONBMap{
		"stdout":     stringSliceOrEmpty(ne.Diagnostics.Stdout),
		"logs":       stringSliceOrEmpty(ne.Diagnostics.Logs),
		"cacheHit":   ne.Diagnostics.CacheHit,
		"costUsd":    ne.Diagnostics.CostUSD,
		"tokensUsed": ne.Diagnostics.TokensUsed,
		"extra":      ne.Diagnostics.Extra,
	}
	return &NodeExecutionModel{
		RunID:        runID,
		NodeID:       ne.NodeID,
		Attempt:      ne.Attempt,
		MaxAttempts:  ne.MaxAttempts,
		Status:       string(ne.Status),
		Input:        JSONBMap(ne.Input),
		Output:       JSONBValue{V: ne.Output},
		ErrorKind:    string(ne.ErrorKind),
		ErrorMessage: ne.ErrorMessage,
		RetryHistory: history,
		Diagnostics:  diagnostics,
		StartedAt:    ne.StartedAt,
		FinishedAt:   ne.FinishedAt,
	}, nil
}

// stringSliceOrEmpty narrows a nil string slice to an empty one so it
// serializes as a JSON array rather than JSON null.
func stringSliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// NodeExecutionFromModel is the inverse of NodeExecutionToModel.
func NodeExecutionFromModel(m *NodeExecutionModel) *domain.NodeExecution {
	history := make([]domain.RetryAttempt, 0, len(m.RetryHistory))
	for _, raw := range m.RetryHistory {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		attempt := domain.RetryAttempt{
			ErrorKind: domain.ErrorKind(stringField(entry, "errorKind")),
			Message:   stringField(entry, "message"),
		}
		if f, ok := entry["attempt"].(float64); ok {
			attempt.Attempt = int(f)
		}
		history = append(history, attempt)
	}
	diag := domain.Diagnostics{}
	if m.Diagnostics != nil {
		diag.CacheHit = m.Diagnostics.GetBool("cacheHit")
		diag.CostUSD = m.Diagnostics.GetFloat("costUsd")
		diag.TokensUsed = m.Diagnostics.GetInt("tokensUsed")
		if extra, ok := m.Diagnostics["extra"].(map[string]interface{}); ok {
			diag.Extra = extra
		}
	}
	return &domain.NodeExecution{
		RunID:        m.RunID.String(),
		NodeID:       m.NodeID,
		Attempt:      m.Attempt,
		MaxAttempts:  m.MaxAttempts,
		Status:       domain.NodeExecStatus(m.Status),
		Input:        map[string]any(m.Input),
		Output:       m.Output.V,
		ErrorKind:    domain.ErrorKind(m.ErrorKind),
		ErrorMessage: m.ErrorMessage,
		RetryHistory: history,
		Diagnostics:  diag,
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
	}
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// TriggerToModel converts a domain trigger into its storage row.
func TriggerToModel(t *domain.Trigger) (*TriggerModel, error) {
	id := uuid.Nil
	var err error
	if t.ID != "" {
		id, err = uuid.Parse(t.ID)
		if err != nil {
			return nil, err
		}
	}
	workflowID, err := uuid.Parse(t.WorkflowID)
	if err != nil {
		return nil, err
	}
	return &TriggerModel{
		ID:              id,
		OrgID:           t.OrgID,
		WorkflowID:      workflowID,
		Environment:     string(t.Environment),
		Type:            string(t.Type),
		Config:          JSONBMap(t.Config),
		Enabled:         t.Enabled,
		LastTriggeredAt: t.LastTriggeredAt,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}, nil
}

// TriggerFromModel is the inverse of TriggerToModel.
func TriggerFromModel(m *TriggerModel) *domain.Trigger {
	return &domain.Trigger{
		ID:              m.ID.String(),
		OrgID:           m.OrgID,
		WorkflowID:      m.WorkflowID.String(),
		Environment:     domain.Environment(m.Environment),
		Type:            domain.TriggerType(m.Type),
		Config:          map[string]any(m.Config),
		Enabled:         m.Enabled,
		LastTriggeredAt: m.LastTriggeredAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// EventToModel converts a domain event into its storage row.
func EventToModel(e *domain.Event) (*EventModel, error) {
	runID, err := uuid.Parse(e.RunID)
	if err != nil {
		return nil, err
	}
	return &EventModel{
		RunID:     runID,
		NodeID:    e.NodeID,
		Attempt:   e.Attempt,
		EventType: string(e.Type),
		Payload:   JSONBMap(e.Payload),
		Timestamp: e.Timestamp,
	}, nil
}

// EventFromModel is the inverse of EventToModel.
func EventFromModel(m *EventModel) *domain.Event {
	return &domain.Event{
		Type:      domain.EventType(m.EventType),
		Timestamp: m.Timestamp,
		RunID:     m.RunID.String(),
		NodeID:    m.NodeID,
		Attempt:   m.Attempt,
		Payload:   map[string]any(m.Payload),
	}
}
