// README: Bench cases: environment, schema, HTTP contract, same-parcel race and request throughput.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "Seed: bench vehicles (optional)", Run: seedVehicles},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", nil, false, http.StatusOK)
		}},
		{Name: "API: metrics exposed", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/metrics", nil, false, http.StatusOK)
		}},
		{Name: "API: decisions require a token", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/decisions", parcelBody(uuid.NewString()), false, http.StatusUnauthorized)
		}},
		{Name: "API: malformed request -> 400", Run: func(ctx context.Context, r *Runner) Result {
			body := parcelBody(uuid.NewString())
			body["weight"] = "-1"
			return r.authed(ctx, http.MethodPost, "/api/decisions", body, http.StatusBadRequest)
		}},
		{Name: "API: request decision", Run: func(ctx context.Context, r *Runner) Result {
			return r.authed(ctx, http.MethodPost, "/api/decisions", parcelBody(uuid.NewString()),
				http.StatusOK, http.StatusAccepted)
		}},
		{Name: "API: unknown decision -> 404", Run: func(ctx context.Context, r *Runner) Result {
			return r.authed(ctx, http.MethodGet, "/api/decisions/"+uuid.NewString(), nil, http.StatusNotFound)
		}},
		{Name: "API: queue listing", Run: func(ctx context.Context, r *Runner) Result {
			return r.authed(ctx, http.MethodGet, "/api/queue?limit=10", nil, http.StatusOK)
		}},
		{Name: "Concurrency: same parcel assigned once", Run: sameParcelRace},
		{Name: "Perf: decision throughput", Run: perfLoad},
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusFail, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: StatusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
	}
	return Result{Status: StatusPass}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("%d tables", len(tables))}
}

// seedVehicles resets a small fleet near the bench pickup point.
func seedVehicles(ctx context.Context, r *Runner) Result {
	if !r.cfg.SeedVehicles {
		return Result{Status: StatusSkip, Note: "seed=false"}
	}
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	for i, v := range []struct {
		lat, lng float64
		max      string
	}{
		{25.0335, 121.5645, "500"},
		{25.0400, 121.5500, "800"},
		{25.0450, 121.5300, "300"},
	} {
		_, err := r.db.Exec(ctx, `
			INSERT INTO vehicles (id, max_weight, current_weight, max_volume, current_volume, lat, lng, status, eligibility_score)
			VALUES ($1, $2::numeric, 0, 20, 0, $3, $4, 'AVAILABLE', 90)
			ON CONFLICT (id) DO UPDATE SET current_weight = 0, current_volume = 0, status = 'AVAILABLE', updated_at = NOW()`,
			fmt.Sprintf("bench-v%d", i+1), v.max, v.lat, v.lng,
		)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
	}
	return Result{Status: StatusPass, Note: "3 vehicles"}
}

// sameParcelRace fires concurrent requests for one parcel; at most one may
// execute, the rest see RETRY_LATER or the existing assignment.
func sameParcelRace(ctx context.Context, r *Runner) Result {
	if r.cfg.Token == "" {
		return Result{Status: StatusSkip, Note: "no token"}
	}
	parcelID := uuid.NewString()
	body := parcelBody(parcelID)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[string]int{}
		errs     int
	)
	start := time.Now()
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, payload, err := r.call(ctx, http.MethodPost, "/api/decisions", body, true)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || code >= 500 {
				errs++
				return
			}
			var res struct {
				Status string `json:"status"`
			}
			_ = json.Unmarshal(payload, &res)
			statuses[res.Status]++
		}()
	}
	wg.Wait()
	latency := time.Since(start)
	note := fmt.Sprintf("statuses=%v errors=%d", statuses, errs)

	if r.db != nil {
		var executed int
		if err := r.db.QueryRow(ctx,
			"SELECT COUNT(*) FROM decisions WHERE parcel_id = $1 AND executed", parcelID,
		).Scan(&executed); err != nil {
			return Result{Status: StatusFail, Latency: latency, Note: err.Error()}
		}
		note += fmt.Sprintf(" executed=%d", executed)
		if executed > 1 {
			return Result{Status: StatusFail, Latency: latency, Note: note}
		}
	}
	if errs > 0 {
		return Result{Status: StatusFail, Latency: latency, Note: note}
	}
	return Result{Status: StatusPass, Latency: latency, Note: note}
}

func perfLoad(ctx context.Context, r *Runner) Result {
	if r.cfg.Token == "" {
		return Result{Status: StatusSkip, Note: "no token"}
	}
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu       sync.Mutex
		count    int64
		errCount int64
		wg       sync.WaitGroup
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, _, err := r.call(ctx, http.MethodPost, "/api/decisions", parcelBody(uuid.NewString()), true)
				mu.Lock()
				if err != nil || code >= 500 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func parcelBody(parcelID string) map[string]any {
	return map[string]any{
		"parcel_id":    parcelID,
		"pickup":       map[string]float64{"lat": 25.0330, "lng": 121.5654},
		"delivery":     map[string]float64{"lat": 25.0478, "lng": 121.5318},
		"sla_deadline": time.Now().Add(4 * time.Hour).UTC().Format(time.RFC3339),
		"weight":       "4.2",
		"dimensions":   map[string]string{"length": "0.4", "width": "0.3", "height": "0.2"},
		"priority":     "MEDIUM",
	}
}

func (r *Runner) authed(ctx context.Context, method, path string, body any, ok ...int) Result {
	if r.cfg.Token == "" {
		return Result{Status: StatusSkip, Note: "no token"}
	}
	return r.expect(ctx, method, path, body, true, ok...)
}

func (r *Runner) expect(ctx context.Context, method, path string, body any, auth bool, ok ...int) Result {
	start := time.Now()
	code, _, err := r.call(ctx, method, path, body, auth)
	latency := time.Since(start)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	note := fmt.Sprintf("status=%d", code)
	if contains(ok, code) {
		return Result{Status: StatusPass, Latency: latency, Note: note}
	}
	return Result{Status: StatusFail, Latency: latency, Note: note}
}

func (r *Runner) call(ctx context.Context, method, path string, body any, auth bool) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	return resp.StatusCode, payload, err
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
