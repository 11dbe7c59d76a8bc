package driver

// Timestamps are stored as epoch milliseconds; see Time in record.go.

var IndexQueries = []string{
	"CREATE INDEX ON :Entity(id);",
	"CREATE INDEX ON :Entity(type);",
	"CREATE INDEX ON :Tag(id);",
	"CREATE INDEX ON :User(id);",
	"CREATE INDEX ON :CreditTransaction(user_id);",
	"CREATE CONSTRAINT ON (u:User) ASSERT u.id IS UNIQUE;",
}

const (
	GetEntityQuery = `
		MATCH (n:Entity {id: $id})
		RETURN properties(n) AS props
	`

	GetEntitiesQuery = `
		MATCH (n:Entity)
		WHERE n.id IN $ids
		RETURN properties(n) AS props
	`

	GetParentsQuery = `
		MATCH (n:Entity {id: $id})-[r:LOCATED_IN|LIVES_IN|HELD_BY|PART_OF]->(p:Entity)
		RETURN properties(p) AS props, type(r) AS category
	`

	GetChildrenQuery = `
		MATCH (c:Entity)-[:LOCATED_IN|LIVES_IN|HELD_BY|PART_OF]->(p:Entity {id: $parent_id})
		WITH DISTINCT c
		ORDER BY c.name, c.id
		LIMIT $limit
		RETURN properties(c) AS props
	`

	GetEntityTagsQuery = `
		MATCH (n:Entity {id: $id})-[:TAGGED]->(t:Tag)
		WITH DISTINCT t
		ORDER BY t.name, t.id
		RETURN properties(t) AS props
	`

	GetTagsByIDQuery = `
		MATCH (t:Tag)
		WHERE t.id IN $ids
		RETURN properties(t) AS props
	`

	GetRelatedQuery = `
		MATCH (n:Entity {id: $id})-[r]-(m:Entity)
		WHERE type(r) IN $categories
		WITH DISTINCT m
		ORDER BY m.name, m.id
		LIMIT $limit
		RETURN properties(m) AS props
	`

	CountSemanticEdgesQuery = `
		MATCH (n:Entity {id: $id})-[r]-(:Entity)
		WHERE type(r) IN $categories
		RETURN count(r) AS total
	`

	GetUniverseMembersQuery = `
		MATCH (m:Entity)-[:LOCATED_IN|LIVES_IN|HELD_BY|PART_OF*1..10]->(u:Entity {id: $universe_id})
		WITH DISTINCT m
		ORDER BY m.updated_at DESC, m.id
		LIMIT $limit
		RETURN properties(m) AS props
	`

	GetSemanticEdgesQuery = `
		MATCH (a:Entity)-[r]->(b:Entity)
		WHERE a.id IN $ids AND b.id IN $ids AND type(r) IN $categories
		RETURN r.id AS id, a.id AS source_id, b.id AS target_id, type(r) AS category,
			r.custom_label AS custom_label, r.created_at AS created_at
	`

	CreateEntityQuery = `
		CREATE (n:Entity {id: $id})
		SET n += $props
		RETURN n.id AS id
	`

	// CreateRelationshipQueryTemplate takes the edge type as its only verb.
	// Callers must only substitute a model.RelationCategory constant.
	CreateRelationshipQueryTemplate = `
		MATCH (a:Entity {id: $source_id})
		MATCH (b:Entity {id: $target_id})
		MERGE (a)-[r:%s {custom_label: $custom_label}]->(b)
		ON CREATE SET r.id = $id, r.created_at = $created_at
		RETURN r.id AS id
	`

	DeleteEntitiesQuery = `
		MATCH (n:Entity)
		WHERE n.id IN $ids
		DETACH DELETE n
	`
)

const (
	// LockAccountQuery bumps ledger_version first so the write lock on the
	// user node is held before credits are read.
	LockAccountQuery = `
		MATCH (u:User {id: $user_id})
		SET u.ledger_version = coalesce(u.ledger_version, 0) + 1
		RETURN u.id AS user_id, u.tier AS tier, u.credits AS credits,
			u.monthly_allotment AS monthly_allotment, u.credits_reset_at AS credits_reset_at,
			u.updated_at AS updated_at, u.ledger_version AS version
	`

	UpdateAccountQuery = `
		MATCH (u:User {id: $user_id})
		SET u.credits = $credits,
			u.tier = $tier,
			u.monthly_allotment = $monthly_allotment,
			u.credits_reset_at = $credits_reset_at,
			u.updated_at = $updated_at
		RETURN u.id AS user_id
	`

	CreateAccountQuery = `
		MERGE (u:User {id: $user_id})
		ON CREATE SET u.tier = $tier,
			u.credits = $credits,
			u.monthly_allotment = $monthly_allotment,
			u.credits_reset_at = $credits_reset_at,
			u.created_at = $updated_at,
			u.updated_at = $updated_at,
			u.ledger_version = 0
		RETURN u.id AS user_id
	`

	InsertTransactionQuery = `
		MATCH (u:User {id: $user_id})
		CREATE (u)-[:HAS_TRANSACTION]->(t:CreditTransaction {
			id: $id,
			user_id: $user_id,
			type: $type,
			amount: $amount,
			balance_after: $balance_after,
			description: $description,
			created_at: $created_at,
			seq: $seq
		})
		RETURN t.id AS id
	`

	GetTransactionsQuery = `
		MATCH (t:CreditTransaction {user_id: $user_id})
		RETURN t.id AS id, t.user_id AS user_id, t.type AS type, t.amount AS amount,
			t.balance_after AS balance_after, t.description AS description,
			t.created_at AS created_at, t.seq AS seq
		ORDER BY t.created_at DESC, t.seq DESC
		LIMIT $limit
	`
)
