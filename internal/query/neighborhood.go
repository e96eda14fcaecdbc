package query

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// walkCTE enumerates every path of at most depth hops from the root idea.
// links lists each stored input/output relation once per traversal
// direction; a step is taken only when its target is not already on the
// path. Parameters: root id, depth, and two direction values.
const walkCTE = `
WITH RECURSIVE links (src_type, src_id, dst_type, dst_id, edge_type, edge_from, edge_to, role, ordinal, dir) AS (
    SELECT 'idea', ci.input_idea_id, 'construction', ci.construction_id, 'input',
           'idea:' || ci.input_idea_id, 'construction:' || ci.construction_id, ci.role, ci.ordinal, 'out'
    FROM construction_inputs ci
    UNION ALL
    SELECT 'construction', co.construction_id, 'idea', co.output_idea_id, 'output',
           'construction:' || co.construction_id, 'idea:' || co.output_idea_id, NULL, NULL, 'out'
    FROM construction_outputs co
    UNION ALL
    SELECT 'idea', co.output_idea_id, 'construction', co.construction_id, 'output',
           'construction:' || co.construction_id, 'idea:' || co.output_idea_id, NULL, NULL, 'in'
    FROM construction_outputs co
    UNION ALL
    SELECT 'construction', ci.construction_id, 'idea', ci.input_idea_id, 'input',
           'idea:' || ci.input_idea_id, 'construction:' || ci.construction_id, ci.role, ci.ordinal, 'in'
    FROM construction_inputs ci
),
walk (depth, node_type, node_id, path, edge_type, edge_from, edge_to, role, ordinal) AS (
    SELECT 0, CAST('idea' AS TEXT), i.content_id, '|idea:' || i.content_id || '|',
           CAST(NULL AS TEXT), CAST(NULL AS TEXT), CAST(NULL AS TEXT), CAST(NULL AS TEXT), CAST(NULL AS INTEGER)
    FROM ideas i
    WHERE i.content_id = ?
    UNION ALL
    SELECT w.depth + 1, l.dst_type, l.dst_id, w.path || l.dst_type || ':' || l.dst_id || '|',
           l.edge_type, l.edge_from, l.edge_to, l.role, l.ordinal
    FROM walk w
    JOIN links l ON l.src_type = w.node_type AND l.src_id = w.node_id
    WHERE w.depth < ?
      AND l.dir IN (?, ?)
      AND w.path NOT LIKE ('%|' || l.dst_type || ':' || l.dst_id || '|%')
)
`

// Nodes keep the smallest depth they were reached at.
const nodesSelect = `
SELECT depth, node_type, node_id, title, operator, created_at, created_at_key
FROM (
    SELECT n.depth, n.node_type, n.node_id, i.title, c.operator,
           COALESCE(i.created_at, c.created_at) AS created_at,
           COALESCE(i.created_at, c.created_at, '` + nullCreatedAt + `') AS created_at_key
    FROM (
        SELECT node_type, node_id, MIN(depth) AS depth
        FROM walk
        GROUP BY node_type, node_id
    ) n
    LEFT JOIN ideas i ON n.node_type = 'idea' AND i.content_id = n.node_id
    LEFT JOIN constructions c ON n.node_type = 'construction' AND c.content_id = n.node_id
) page
`

const nodesKeyset = `WHERE (depth, node_type, created_at_key, node_id) > (?, ?, ?, ?)
`

const nodesOrder = `ORDER BY depth ASC, node_type ASC, created_at_key ASC, node_id ASC
LIMIT ?`

// Output edges carry no ordinal; -1 places them first among equal keys.
const edgesSelect = `
SELECT depth, edge_type, edge_from, edge_to, role, ordinal, ordinal_key
FROM (
    SELECT MIN(depth) AS depth, edge_type, edge_from, edge_to, role, ordinal,
           COALESCE(ordinal, -1) AS ordinal_key
    FROM walk
    WHERE edge_type IS NOT NULL
    GROUP BY edge_type, edge_from, edge_to, role, ordinal
) page
`

const edgesKeyset = `WHERE (depth, edge_type, edge_from, edge_to, ordinal_key) > (?, ?, ?, ?, ?)
`

const edgesOrder = `ORDER BY depth ASC, edge_type ASC, edge_from ASC, edge_to ASC, ordinal_key ASC
LIMIT ?`

// nodeCursor is the last node of a page in node sort order.
type nodeCursor struct {
	Depth     int    `json:"depth"`
	NodeType  string `json:"node_type"`
	CreatedAt string `json:"created_at"`
	ContentID string `json:"content_id"`
}

// edgeCursor is the last edge of a page in edge sort order.
type edgeCursor struct {
	Depth    int    `json:"depth"`
	EdgeType string `json:"edge_type"`
	From     string `json:"from"`
	To       string `json:"to"`
	Ordinal  int    `json:"ordinal"`
}

// graphCursor resumes the node and edge streams independently. A done
// stream has been fully returned and yields nothing on later pages.
type graphCursor struct {
	Nodes     *nodeCursor `json:"nodes,omitempty"`
	Edges     *edgeCursor `json:"edges,omitempty"`
	NodesDone bool        `json:"nodes_done,omitempty"`
	EdgesDone bool        `json:"edges_done,omitempty"`
}

func encodeCursor(c graphCursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeCursor(s string) (graphCursor, error) {
	var c graphCursor
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, invalidArgument("invalid cursor", nil)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return c, invalidArgument("invalid cursor", nil)
	}
	if n := c.Nodes; n != nil {
		if n.Depth < 0 || (n.NodeType != NodeIdea && n.NodeType != NodeConstruction) {
			return c, invalidArgument("invalid cursor", nil)
		}
	}
	if ed := c.Edges; ed != nil {
		if ed.Depth < 0 || (ed.EdgeType != EdgeInput && ed.EdgeType != EdgeOutput) {
			return c, invalidArgument("invalid cursor", nil)
		}
	}
	return c, nil
}

type traversal struct {
	depth     int
	dirs      [2]string
	nodeLimit int
	edgeLimit int
	cursor    graphCursor
}

func resolveTraversal(opts NeighborhoodOptions, fallback Direction) (traversal, error) {
	var tr traversal
	if opts.Depth < 0 {
		return tr, invalidArgument("depth must be a non-negative integer", map[string]any{"depth": opts.Depth})
	}
	tr.depth = opts.Depth

	direction := opts.Direction
	if direction == "" {
		direction = fallback
	}
	switch direction {
	case DirectionOut:
		tr.dirs = [2]string{"out", "out"}
	case DirectionIn:
		tr.dirs = [2]string{"in", "in"}
	case DirectionBoth:
		tr.dirs = [2]string{"out", "in"}
	default:
		return tr, invalidArgument("direction must be out, in, or both", map[string]any{"direction": string(opts.Direction)})
	}

	var err error
	if tr.nodeLimit, err = positiveLimit("node_limit", opts.NodeLimit, DefaultNodeLimit); err != nil {
		return tr, err
	}
	if tr.edgeLimit, err = positiveLimit("edge_limit", opts.EdgeLimit, DefaultEdgeLimit); err != nil {
		return tr, err
	}
	if opts.Cursor != "" {
		if tr.cursor, err = decodeCursor(opts.Cursor); err != nil {
			return tr, err
		}
	}
	return tr, nil
}

func positiveLimit(name string, value, fallback int) (int, error) {
	if value == 0 {
		return fallback, nil
	}
	if value < 0 {
		return 0, invalidArgument(name+" must be a positive integer", map[string]any{name: value})
	}
	return value, nil
}

// IdeaNeighborhood returns one page of the subgraph within opts.Depth hops
// of the root idea. Nodes are deduplicated to the smallest depth they are
// reached at; edges to one row each. Both streams are ordered totally and
// resumed from opts.Cursor independently.
func (e *Engine) IdeaNeighborhood(ctx context.Context, rootID string, opts NeighborhoodOptions) (GraphResponse, error) {
	tr, err := resolveTraversal(opts, DirectionBoth)
	if err != nil {
		return GraphResponse{}, err
	}
	return e.traverse(ctx, rootID, tr)
}

// IdeaLineage is IdeaNeighborhood with the direction defaulting to out.
func (e *Engine) IdeaLineage(ctx context.Context, rootID string, opts NeighborhoodOptions) (GraphResponse, error) {
	tr, err := resolveTraversal(opts, DirectionOut)
	if err != nil {
		return GraphResponse{}, err
	}
	return e.traverse(ctx, rootID, tr)
}

func (e *Engine) traverse(ctx context.Context, rootID string, tr traversal) (GraphResponse, error) {
	if err := e.ensureExists(ctx, "ideas", "idea", rootID); err != nil {
		return GraphResponse{}, err
	}

	resp := GraphResponse{
		Root:  GraphRoot{Type: NodeIdea, ID: rootID},
		Nodes: []GraphNode{},
		Edges: []GraphEdge{},
		Page:  GraphPage{NodeLimit: tr.nodeLimit, EdgeLimit: tr.edgeLimit},
	}
	walkArgs := []any{rootID, tr.depth, tr.dirs[0], tr.dirs[1]}
	var next graphCursor

	if tr.cursor.NodesDone {
		next.NodesDone = true
	} else {
		nodes, last, err := e.nodePage(ctx, walkArgs, tr.cursor.Nodes, tr.nodeLimit)
		if err != nil {
			return GraphResponse{}, err
		}
		resp.Nodes = nodes
		if len(nodes) == tr.nodeLimit {
			next.Nodes = last
		} else {
			next.NodesDone = true
		}
	}

	if tr.cursor.EdgesDone {
		next.EdgesDone = true
	} else {
		edges, last, err := e.edgePage(ctx, walkArgs, tr.cursor.Edges, tr.edgeLimit)
		if err != nil {
			return GraphResponse{}, err
		}
		resp.Edges = edges
		if len(edges) == tr.edgeLimit {
			next.Edges = last
		} else {
			next.EdgesDone = true
		}
	}

	if !next.NodesDone || !next.EdgesDone {
		token, err := encodeCursor(next)
		if err != nil {
			return GraphResponse{}, err
		}
		resp.Page.NextCursor = &token
	}

	e.logger.Debug("graph page",
		"root_id", rootID,
		"depth", tr.depth,
		"nodes", len(resp.Nodes),
		"edges", len(resp.Edges),
		"more", resp.Page.NextCursor != nil,
	)
	return resp, nil
}

func (e *Engine) nodePage(ctx context.Context, walkArgs []any, after *nodeCursor, limit int) ([]GraphNode, *nodeCursor, error) {
	query := walkCTE + nodesSelect
	args := append([]any{}, walkArgs...)
	if after != nil {
		query += nodesKeyset
		args = append(args, after.Depth, after.NodeType, after.CreatedAt, after.ContentID)
	}
	query += nodesOrder
	args = append(args, limit)

	rows, err := e.db.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query neighborhood nodes: %w", err)
	}
	defer rows.Close()

	nodes := []GraphNode{}
	var last nodeCursor
	for rows.Next() {
		var (
			key       nodeCursor
			title     sql.NullString
			operator  sql.NullString
			createdAt sql.NullString
		)
		if err := rows.Scan(&key.Depth, &key.NodeType, &key.ContentID, &title, &operator, &createdAt, &key.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan neighborhood node: %w", err)
		}
		node := GraphNode{Type: key.NodeType, ID: key.ContentID, CreatedAt: nullable(createdAt)}
		if key.NodeType == NodeIdea {
			node.Title = nullable(title)
		} else {
			node.Operator = nullable(operator)
		}
		nodes = append(nodes, node)
		last = key
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate neighborhood nodes: %w", err)
	}
	return nodes, &last, nil
}

func (e *Engine) edgePage(ctx context.Context, walkArgs []any, after *edgeCursor, limit int) ([]GraphEdge, *edgeCursor, error) {
	query := walkCTE + edgesSelect
	args := append([]any{}, walkArgs...)
	if after != nil {
		query += edgesKeyset
		args = append(args, after.Depth, after.EdgeType, after.From, after.To, after.Ordinal)
	}
	query += edgesOrder
	args = append(args, limit)

	rows, err := e.db.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query neighborhood edges: %w", err)
	}
	defer rows.Close()

	edges := []GraphEdge{}
	var last edgeCursor
	for rows.Next() {
		var (
			key     edgeCursor
			role    sql.NullString
			ordinal sql.NullInt64
		)
		if err := rows.Scan(&key.Depth, &key.EdgeType, &key.From, &key.To, &role, &ordinal, &key.Ordinal); err != nil {
			return nil, nil, fmt.Errorf("scan neighborhood edge: %w", err)
		}
		edges = append(edges, GraphEdge{
			Type:    key.EdgeType,
			From:    key.From,
			To:      key.To,
			Ordinal: nullableInt(ordinal),
			Role:    nullable(role),
		})
		last = key
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate neighborhood edges: %w", err)
	}
	return edges, &last, nil
}
