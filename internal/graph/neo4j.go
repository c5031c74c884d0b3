package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jStore persists the knowledge graph in Neo4j. Entities are nodes
// keyed by canonical id + graph id; triples are REL relationships carrying
// predicate, confidence and provenance as properties.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jStore creates a Neo4j-backed triple store.
func NewNeo4jStore(uri, user, password string, logger *zap.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Neo4jStore{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// CreateTriple persists one triple in a single write transaction. The
// session is opened in write mode up front, so concurrent background
// writers never force a read→write lock upgrade.
func (s *Neo4jStore) CreateTriple(ctx context.Context, t *Triple) error {
	prepare(t)

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (s:Entity {id: $subj, graph_id: $graph})
			MERGE (o:Entity {id: $obj, graph_id: $graph})
			CREATE (s)-[:REL {
				id: $id, predicate: $pred, confidence: $conf,
				context: $context, graph_id: $graph,
				prov_source: $provSource, prov_method: $provMethod,
				is_derived: $derived, created_at: datetime($created),
				expires_at: $expires
			}]->(o)`,
			tripleParams(t))
	})
	if err != nil {
		return fmt.Errorf("create triple: %w", err)
	}
	return nil
}

// CreateDerived persists a batch of inferred triples in one transaction.
func (s *Neo4jStore) CreateDerived(ctx context.Context, graphID string, triples []*Triple) error {
	if len(triples) == 0 {
		return nil
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, t := range triples {
			t.IsDerived = true
			t.GraphID = graphID
			prepare(t)
			if _, err := tx.Run(ctx, `
				MERGE (s:Entity {id: $subj, graph_id: $graph})
				MERGE (o:Entity {id: $obj, graph_id: $graph})
				CREATE (s)-[:REL {
					id: $id, predicate: $pred, confidence: $conf,
					context: $context, graph_id: $graph,
					prov_source: $provSource, prov_method: $provMethod,
					is_derived: true, created_at: datetime($created),
					expires_at: $expires
				}]->(o)`,
				tripleParams(t)); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("create derived triples: %w", err)
	}
	return nil
}

// DeleteDerived removes all inferred triples for a graph.
func (s *Neo4jStore) DeleteDerived(ctx context.Context, graphID string) (int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	res, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH ()-[r:REL {graph_id: $graph, is_derived: true}]->()
			DELETE r
			RETURN count(r) AS deleted`,
			map[string]any{"graph": graphID})
		if err != nil {
			return nil, err
		}
		if result.Next(ctx) {
			if v, ok := result.Record().Get("deleted"); ok {
				return int(v.(int64)), nil
			}
		}
		return 0, result.Err()
	})
	if err != nil {
		return 0, fmt.Errorf("delete derived: %w", err)
	}
	return res.(int), nil
}

// Relationships returns the direct edges of an entity.
func (s *Neo4jStore) Relationships(ctx context.Context, entityID string, dir Direction, graphID string) ([]*Triple, error) {
	var pattern string
	switch dir {
	case DirOut:
		pattern = `(e)-[r:REL {graph_id: $graph}]->(other)`
	case DirIn:
		pattern = `(e)<-[r:REL {graph_id: $graph}]-(other)`
	default:
		pattern = `(e)-[r:REL {graph_id: $graph}]-(other)`
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (e:Entity {id: $id, graph_id: $graph})
		MATCH `+pattern+`
		RETURN r.id AS id, startNode(r).id AS subj, r.predicate AS pred,
		       endNode(r).id AS obj, r.confidence AS conf, r.context AS context,
		       r.prov_source AS provSource, r.prov_method AS provMethod,
		       r.is_derived AS derived`,
		map[string]any{"id": entityID, "graph": graphID})
	if err != nil {
		return nil, fmt.Errorf("relationships: %w", err)
	}
	return collectTriples(ctx, result, graphID)
}

// Snapshot returns every triple of a graph for an in-memory pass.
func (s *Neo4jStore) Snapshot(ctx context.Context, graphID string) ([]*Triple, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (s:Entity {graph_id: $graph})-[r:REL {graph_id: $graph}]->(o:Entity)
		RETURN r.id AS id, s.id AS subj, r.predicate AS pred, o.id AS obj,
		       r.confidence AS conf, r.context AS context,
		       r.prov_source AS provSource, r.prov_method AS provMethod,
		       r.is_derived AS derived`,
		map[string]any{"graph": graphID})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return collectTriples(ctx, result, graphID)
}

// UpdateConfidence adjusts a triple's confidence in place.
func (s *Neo4jStore) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH ()-[r:REL {id: $id}]->()
			SET r.confidence = $conf`,
			map[string]any{"id": id, "conf": confidence})
	})
	if err != nil {
		return fmt.Errorf("update confidence: %w", err)
	}
	return nil
}

// CountByPredicate returns triple counts grouped by predicate.
func (s *Neo4jStore) CountByPredicate(ctx context.Context, graphID string) (map[string]int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH ()-[r:REL {graph_id: $graph}]->()
		RETURN r.predicate AS pred, count(r) AS n`,
		map[string]any{"graph": graphID})
	if err != nil {
		return nil, fmt.Errorf("count by predicate: %w", err)
	}

	counts := make(map[string]int)
	for result.Next(ctx) {
		rec := result.Record()
		pred, _ := rec.Get("pred")
		n, _ := rec.Get("n")
		counts[pred.(string)] = int(n.(int64))
	}
	return counts, result.Err()
}

func prepare(t *Triple) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
}

func tripleParams(t *Triple) map[string]any {
	var expires any
	if t.ExpiresAt != nil {
		expires = t.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"id":         t.ID,
		"subj":       t.SubjectID,
		"pred":       t.Predicate,
		"obj":        t.ObjectID,
		"conf":       t.Confidence,
		"context":    t.Context,
		"graph":      t.GraphID,
		"provSource": t.Provenance.Source,
		"provMethod": t.Provenance.Method,
		"derived":    t.IsDerived,
		"created":    t.CreatedAt.UTC().Format(time.RFC3339),
		"expires":    expires,
	}
}

func collectTriples(ctx context.Context, result neo4j.ResultWithContext, graphID string) ([]*Triple, error) {
	var out []*Triple
	for result.Next(ctx) {
		rec := result.Record()
		t := &Triple{GraphID: graphID}
		if v, ok := rec.Get("id"); ok && v != nil {
			t.ID = v.(string)
		}
		if v, ok := rec.Get("subj"); ok && v != nil {
			t.SubjectID = v.(string)
		}
		if v, ok := rec.Get("pred"); ok && v != nil {
			t.Predicate = v.(string)
		}
		if v, ok := rec.Get("obj"); ok && v != nil {
			t.ObjectID = v.(string)
		}
		if v, ok := rec.Get("conf"); ok && v != nil {
			t.Confidence = v.(float64)
		}
		if v, ok := rec.Get("context"); ok && v != nil {
			t.Context = v.(string)
		}
		if v, ok := rec.Get("provSource"); ok && v != nil {
			t.Provenance.Source = v.(string)
		}
		if v, ok := rec.Get("provMethod"); ok && v != nil {
			t.Provenance.Method = v.(string)
		}
		if v, ok := rec.Get("derived"); ok && v != nil {
			t.IsDerived = v.(bool)
		}
		out = append(out, t)
	}
	return out, result.Err()
}
