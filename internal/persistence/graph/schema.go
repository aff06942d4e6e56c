// Package graph bootstraps the Neo4j schema the long-term memory
// engine relies on: uniqueness constraints on the generic MemoryNode/
// MEMORY_EDGE shape internal/memory/longterm writes into.
package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/coreagent/platform/internal/platform/logger"
	"github.com/coreagent/platform/internal/platform/neo4jdb"
)

// EnsureSchema creates the constraints the long-term memory graph
// needs, best-effort: a constraint that already exists or a server
// that does not support one of these statements is logged and
// skipped, not fatal, matching the teacher's schema-init loop in
// neo4j_chat_graph.go.
func EnsureSchema(ctx context.Context, client *neo4jdb.Client, log *logger.Logger) error {
	if client == nil || client.Driver == nil {
		return nil
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT memory_node_id_unique IF NOT EXISTS FOR (n:MemoryNode) REQUIRE n.id IS UNIQUE`,
		`CREATE INDEX memory_node_type_idx IF NOT EXISTS FOR (n:MemoryNode) ON (n.type)`,
		`CREATE INDEX memory_node_name_idx IF NOT EXISTS FOR (n:MemoryNode) ON (n.name)`,
	}
	for _, stmt := range stmts {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			if log != nil {
				log.Warn("neo4j schema init failed (continuing)", "statement", stmt, "error", err)
			}
			continue
		}
		if _, err := res.Consume(ctx); err != nil && log != nil {
			log.Warn("neo4j schema init consume failed (continuing)", "statement", stmt, "error", err)
		}
	}
	return nil
}
