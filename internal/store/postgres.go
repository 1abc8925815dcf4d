package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"allocplan/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies embedded migrations that are not yet recorded in schema_migrations.
// Each file runs in its own transaction.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("schema_migrations: %w", err)
	}
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, name).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}
		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		if err := p.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name)
			return err
		}); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) UpsertCity(ctx context.Context, tenantID string, in model.CityInput) (model.City, error) {
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	var c model.City
	err := p.db.QueryRowContext(ctx, `INSERT INTO cities (id, tenant_id, name, classification, active) VALUES ($1,$2,$3,$4,COALESCE($5,true))
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, classification=EXCLUDED.classification, active=COALESCE($5, cities.active)
        WHERE cities.tenant_id=EXCLUDED.tenant_id
        RETURNING id, tenant_id, name, classification, active`,
		id, tenantID, in.Name, string(in.Classification), in.Active).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.Classification, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		// the row exists under another tenant
		return model.City{}, fmt.Errorf("city %s: %w", id, ErrConflict)
	}
	return c, err
}

func (p *Postgres) ListCities(ctx context.Context, tenantID string) ([]model.City, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, tenant_id, name, classification, active FROM cities WHERE tenant_id=$1 ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.City{}
	for rows.Next() {
		var c model.City
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Classification, &c.Active); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertNode(ctx context.Context, tenantID string, in model.NodeInput) (model.Node, error) {
	var owner string
	err := p.db.QueryRowContext(ctx, `SELECT tenant_id FROM cities WHERE id=$1`, in.CityID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != tenantID) {
		return model.Node{}, fmt.Errorf("city %s: %w", in.CityID, ErrNotFound)
	}
	if err != nil {
		return model.Node{}, err
	}
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	var n model.Node
	err = p.db.QueryRowContext(ctx, `INSERT INTO nodes (id, tenant_id, city_id, name, active) VALUES ($1,$2,$3,$4,COALESCE($5,true))
        ON CONFLICT (id) DO UPDATE SET city_id=EXCLUDED.city_id, name=EXCLUDED.name, active=COALESCE($5, nodes.active)
        WHERE nodes.tenant_id=EXCLUDED.tenant_id
        RETURNING id, tenant_id, city_id, name, active`,
		id, tenantID, in.CityID, in.Name, in.Active).
		Scan(&n.ID, &n.TenantID, &n.CityID, &n.Name, &n.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Node{}, fmt.Errorf("node %s: %w", id, ErrConflict)
	}
	return n, err
}

func (p *Postgres) ListNodes(ctx context.Context, tenantID string) ([]model.Node, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, tenant_id, city_id, name, active FROM nodes WHERE tenant_id=$1 ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Node{}
	for rows.Next() {
		var n model.Node
		if err := rows.Scan(&n.ID, &n.TenantID, &n.CityID, &n.Name, &n.Active); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *Postgres) GetPolicy(ctx context.Context, tenantID string) (model.Policy, error) {
	var js []byte
	err := p.db.QueryRowContext(ctx, `SELECT policy FROM policies WHERE tenant_id=$1`, tenantID).Scan(&js)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Policy{}, ErrNotFound
	}
	if err != nil {
		return model.Policy{}, err
	}
	var pol model.Policy
	if err := json.Unmarshal(js, &pol); err != nil {
		return model.Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	return pol, nil
}

func (p *Postgres) SavePolicy(ctx context.Context, tenantID string, pol model.Policy) error {
	js, err := json.Marshal(pol)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO policies (tenant_id, policy, updated_at) VALUES ($1, $2::jsonb, now())
        ON CONFLICT (tenant_id) DO UPDATE SET policy=EXCLUDED.policy, updated_at=now()`, tenantID, string(js))
	return err
}

// CreatePlan writes the plan header and all entries in one transaction.
func (p *Postgres) CreatePlan(ctx context.Context, plan model.Plan, entries []model.AllocationEntry) (model.Plan, error) {
	if plan.ID == "" {
		plan.ID = newPlanID()
	}
	matrix, err := json.Marshal(plan.Matrix)
	if err != nil {
		return model.Plan{}, err
	}
	seasonal, err := json.Marshal(plan.Seasonal)
	if err != nil {
		return model.Plan{}, err
	}
	summary, err := json.Marshal(plan.Summary)
	if err != nil {
		return model.Plan{}, err
	}
	var created time.Time
	err = p.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `INSERT INTO plans (id, tenant_id, name, status, total_samples, start_date, end_date, matrix, use_seasonal, seasonal, max_samples_per_week, summary)
            VALUES ($1,$2,$3,$4,$5,$6::date,$7::date,$8::jsonb,$9,$10::jsonb,$11,$12::jsonb)
            ON CONFLICT (id) DO NOTHING RETURNING created_at`,
			plan.ID, plan.TenantID, plan.Name, plan.Status, plan.TotalSamples, plan.StartDate, plan.EndDate,
			string(matrix), plan.UseSeasonal, string(seasonal), plan.MaxSamplesPerWeek, string(summary)).Scan(&created)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("plan %s: %w", plan.ID, ErrConflict)
		}
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO plan_entries (plan_id, seq, origin_node_id, destination_node_id, scheduled_date, iso_year, iso_week, month, year)
            VALUES ($1,$2,$3,$4,$5::date,$6,$7,$8,$9)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, plan.ID, e.Seq, e.OriginNodeID, e.DestinationNodeID, e.ScheduledDate, e.ISOYear, e.ISOWeek, e.Month, e.Year); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Plan{}, err
	}
	plan.CreatedAt = created.UTC().Format(time.RFC3339)
	return plan, nil
}

const planColumns = `id, tenant_id, name, status, total_samples, to_char(start_date,'YYYY-MM-DD'), to_char(end_date,'YYYY-MM-DD'), matrix, use_seasonal, seasonal, max_samples_per_week, summary, created_at`

func scanPlan(row interface{ Scan(...any) error }) (model.Plan, error) {
	var pl model.Plan
	var matrix, seasonal, summary []byte
	var created time.Time
	if err := row.Scan(&pl.ID, &pl.TenantID, &pl.Name, &pl.Status, &pl.TotalSamples, &pl.StartDate, &pl.EndDate,
		&matrix, &pl.UseSeasonal, &seasonal, &pl.MaxSamplesPerWeek, &summary, &created); err != nil {
		return pl, err
	}
	if err := json.Unmarshal(matrix, &pl.Matrix); err != nil {
		return pl, fmt.Errorf("decode matrix: %w", err)
	}
	if len(seasonal) > 0 {
		if err := json.Unmarshal(seasonal, &pl.Seasonal); err != nil {
			return pl, fmt.Errorf("decode seasonal: %w", err)
		}
	}
	if err := json.Unmarshal(summary, &pl.Summary); err != nil {
		return pl, fmt.Errorf("decode summary: %w", err)
	}
	pl.CreatedAt = created.UTC().Format(time.RFC3339)
	return pl, nil
}

func (p *Postgres) GetPlan(ctx context.Context, tenantID, planID string) (model.Plan, error) {
	pl, err := scanPlan(p.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE tenant_id=$1 AND id=$2`, tenantID, planID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Plan{}, ErrNotFound
	}
	return pl, err
}

func (p *Postgres) ListPlans(ctx context.Context, tenantID, cursor string, limit int) ([]model.Plan, string, error) {
	limit = clampLimit(limit)
	// Cursor is the last id seen; ids compare bytewise, as in Memory.
	rows, err := p.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans WHERE tenant_id=$1 AND id COLLATE "C" > $2 ORDER BY id COLLATE "C" LIMIT $3`, tenantID, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Plan{}
	for rows.Next() {
		pl, err := scanPlan(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, pl)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (p *Postgres) ListPlanEntries(ctx context.Context, tenantID, planID string, afterSeq, limit int) ([]model.AllocationEntry, int, error) {
	if _, err := p.GetPlan(ctx, tenantID, planID); err != nil {
		return nil, 0, err
	}
	limit = clampLimit(limit)
	rows, err := p.db.QueryContext(ctx, `SELECT seq, origin_node_id, destination_node_id, to_char(scheduled_date,'YYYY-MM-DD'), iso_year, iso_week, month, year
        FROM plan_entries WHERE plan_id=$1 AND seq > $2 ORDER BY seq LIMIT $3`, planID, afterSeq, limit+1)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []model.AllocationEntry{}
	for rows.Next() {
		var e model.AllocationEntry
		if err := rows.Scan(&e.Seq, &e.OriginNodeID, &e.DestinationNodeID, &e.ScheduledDate, &e.ISOYear, &e.ISOWeek, &e.Month, &e.Year); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	next := 0
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].Seq
	}
	return out, next, nil
}

func (p *Postgres) DeletePlan(ctx context.Context, tenantID, planID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM plans WHERE tenant_id=$1 AND id=$2`, tenantID, planID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4::jsonb,$5)`, id, req.TenantID, req.URL, string(ev), req.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	want, _ := json.Marshal([]string{eventType})
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, secret, events FROM subscriptions
        WHERE tenant_id=$1 AND (events @> $2::jsonb OR events @> '["*"]'::jsonb) ORDER BY created_at, id`, tenantID, string(want))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, err
		}
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	limit = clampLimit(limit)
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND id > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, "", err
		}
		s.TenantID = tenantID
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING
        RETURNING id`, uuid.New().String(), tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, computeDedupKey(payload)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, tenant_id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status=$1 AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $2`, DeliveryPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$3`,
			nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status=$4, delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
		id, responseCode, latencyMs, DeliveryDelivered)
	return err
}

// FailWebhookDelivery marks the delivery dead and copies it to the dead letter table.
func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status=$5, last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
			id, nullIfEmpty(lastError), responseCode, latencyMs, DeliveryDead); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (id, tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error)
            SELECT $3, tenant_id, id, event_type, url, secret, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError), uuid.New().String())
		return err
	})
}

// computeDedupKey prefers the event id in the payload and falls back to a content hash.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
