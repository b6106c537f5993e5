package postgres

const (
	createSnapshotsTable = `
		CREATE TABLE IF NOT EXISTS client_snapshots (
			namespace TEXT PRIMARY KEY,
			payload   JSONB NOT NULL,
			saved_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`

	selectSnapshot = `
		SELECT payload
		FROM client_snapshots
		WHERE namespace = $1`

	upsertSnapshot = `
		INSERT INTO client_snapshots (namespace, payload, saved_at)
		VALUES ($1, $2, now())
		ON CONFLICT (namespace) DO UPDATE
		SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`

	deleteSnapshot = `
		DELETE FROM client_snapshots
		WHERE namespace = $1`
)
