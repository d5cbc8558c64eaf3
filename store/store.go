// Package store persists matrix product state snapshots in a sqlite
// database, so that long running sweeps can checkpoint and resume.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/zqguo/mps"
	"github.com/zqguo/mps/tensor"
)

const (
	tableChain = "chain"
	tableLeg   = "leg"
	tableElem  = "elem"

	// lambdaSite is the pseudo site index under which the singular value
	// diagonal of a snapshot is stored.
	lambdaSite = -1
)

// Store is a collection of chain snapshots backed by one sqlite file.
type Store struct {
	path string
	db   *sql.DB
}

// Snapshot describes one stored chain.
type Snapshot struct {
	ID      string
	Name    string
	Mode    mps.Mode
	NSite   int
	Cut     int
	Created time.Time
}

// Open opens or creates the snapshot database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}
	return &Store{path: path, db: db}, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT, name TEXT, mode INTEGER, nsite INTEGER, cut INTEGER, created INTEGER, PRIMARY KEY (id)) STRICT`, tableChain),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (chain TEXT, site INTEGER, axis INTEGER, label TEXT, dim INTEGER, flow INTEGER, qns TEXT, PRIMARY KEY (chain, site, axis)) STRICT`, tableLeg),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (chain TEXT, site INTEGER, idx INTEGER, v REAL, PRIMARY KEY (chain, site, idx)) STRICT`, tableElem),
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, s)
		}
	}
	return nil
}

// Close closes the underlying database. The file is kept.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a snapshot of m under the given name and returns its id.
func (s *Store) Save(name string, m *mps.MPS) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 48*time.Hour)
	defer cancel()

	id := uuid.NewString()
	sqlStr := fmt.Sprintf(`INSERT INTO %s (id, name, mode, nsite, cut, created) VALUES (?, ?, ?, ?, ?, ?)`, tableChain)
	if _, err := s.db.ExecContext(ctx, sqlStr, id, name, int(m.Mode()), m.Len(), m.Cut(), time.Now().Unix()); err != nil {
		return "", errors.Wrap(err, "")
	}

	for i := 0; i < m.Len(); i++ {
		t := m.Tensor(i)
		for ax, l := range t.Labels() {
			if err := s.setLeg(ctx, id, i, ax, l); err != nil {
				return "", errors.Wrap(err, "")
			}
		}
		if err := s.setElems(ctx, id, i, t.Data()); err != nil {
			return "", errors.Wrap(err, "")
		}
	}
	if lambda := m.Lambda(); lambda != nil {
		if err := s.setLeg(ctx, id, lambdaSite, 0, lambda.Label()); err != nil {
			return "", errors.Wrap(err, "")
		}
		if err := s.setElems(ctx, id, lambdaSite, lambda.Data()); err != nil {
			return "", errors.Wrap(err, "")
		}
	}
	return id, nil
}

func (s *Store) setLeg(ctx context.Context, chain string, site, axis int, l tensor.Label) error {
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (chain, site, axis, label, dim, flow, qns) VALUES (?, ?, ?, ?, ?, ?, ?)`, tableLeg)
	args := []any{chain, site, axis, l.ID, l.Dim, int(l.Flow), formatQNs(l.QNs)}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
	}
	return nil
}

// setElems stores the nonzero entries only.
func (s *Store) setElems(ctx context.Context, chain string, site int, data []float64) error {
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (chain, site, idx, v) VALUES (?, ?, ?, ?)`, tableElem)
	for idx, v := range data {
		if v == 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, sqlStr, chain, site, idx, v); err != nil {
			return errors.Wrap(err, fmt.Sprintf("site %d idx %d", site, idx))
		}
	}
	return nil
}

// Load reconstructs the snapshot with the given id.
func (s *Store) Load(id string) (*mps.MPS, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 48*time.Hour)
	defer cancel()

	sqlStr := fmt.Sprintf(`SELECT mode, nsite, cut FROM %s WHERE id=?`, tableChain)
	var mode, nsite, cut int
	if err := s.db.QueryRowContext(ctx, sqlStr, id).Scan(&mode, &nsite, &cut); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("snapshot %s", id))
	}

	ms := make([]*tensor.Dense, 0, nsite)
	for i := 0; i < nsite; i++ {
		legs, err := s.legs(ctx, id, i)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if len(legs) != 3 {
			return nil, errors.Errorf("snapshot %s site %d has %d legs", id, i, len(legs))
		}
		size := legs[0].Dim * legs[1].Dim * legs[2].Dim
		data, err := s.elems(ctx, id, i, size)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		t, err := tensor.New(data, legs)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		ms = append(ms, t)
	}

	var lambda *tensor.Diag
	if cut >= 0 {
		legs, err := s.legs(ctx, id, lambdaSite)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if len(legs) != 1 {
			return nil, errors.Errorf("snapshot %s has %d lambda legs", id, len(legs))
		}
		size := legs[0].Dim
		if legs[0].ID == "" {
			// A scalar center, as installed by Reset, carries no leg.
			size = 1
		}
		data, err := s.elems(ctx, id, lambdaSite, size)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if lambda, err = tensor.NewDiag(legs[0], data); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return mps.New(mps.Mode(mode), ms, lambda, cut)
}

func (s *Store) legs(ctx context.Context, chain string, site int) ([]tensor.Label, error) {
	sqlStr := fmt.Sprintf(`SELECT label, dim, flow, qns FROM %s WHERE chain=? AND site=? ORDER BY axis`, tableLeg)
	rows, err := s.db.QueryContext(ctx, sqlStr, chain, site)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	var legs []tensor.Label
	for rows.Next() {
		var label, qnsStr string
		var dim, flow int
		if err := rows.Scan(&label, &dim, &flow, &qnsStr); err != nil {
			return nil, errors.Wrap(err, "")
		}
		qns, err := parseQNs(qnsStr)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		legs = append(legs, tensor.Label{ID: label, Dim: dim, QNs: qns, Flow: tensor.Flow(flow)})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return legs, nil
}

func (s *Store) elems(ctx context.Context, chain string, site, size int) ([]float64, error) {
	sqlStr := fmt.Sprintf(`SELECT idx, v FROM %s WHERE chain=? AND site=?`, tableElem)
	rows, err := s.db.QueryContext(ctx, sqlStr, chain, site)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	data := make([]float64, size)
	for rows.Next() {
		var idx int
		var v float64
		if err := rows.Scan(&idx, &v); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if idx < 0 || idx >= size {
			return nil, errors.Errorf("site %d idx %d size %d", site, idx, size)
		}
		data[idx] = v
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return data, nil
}

// List returns the stored snapshots, newest first.
func (s *Store) List() ([]Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT id, name, mode, nsite, cut, created FROM %s ORDER BY created DESC, id`, tableChain)
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var sn Snapshot
		var mode int
		var created int64
		if err := rows.Scan(&sn.ID, &sn.Name, &mode, &sn.NSite, &sn.Cut, &created); err != nil {
			return nil, errors.Wrap(err, "")
		}
		sn.Mode = mps.Mode(mode)
		sn.Created = time.Unix(created, 0)
		snaps = append(snaps, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return snaps, nil
}

// Delete removes a snapshot and all of its rows.
func (s *Store) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, table := range []string{tableElem, tableLeg} {
		sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE chain=?`, table)
		if _, err := s.db.ExecContext(ctx, sqlStr, id); err != nil {
			return errors.Wrap(err, "")
		}
	}
	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE id=?`, tableChain)
	if _, err := s.db.ExecContext(ctx, sqlStr, id); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// formatQNs encodes charge sectors as "charge:dim" pairs. Ungraded legs
// encode as the empty string.
func formatQNs(qns tensor.QNs) string {
	ss := make([]string, 0, len(qns))
	for _, s := range qns {
		ss = append(ss, fmt.Sprintf("%d:%d", s.N, s.Dim))
	}
	return strings.Join(ss, ",")
}

func parseQNs(s string) (tensor.QNs, error) {
	if s == "" {
		return nil, nil
	}
	var qns tensor.QNs
	for _, pair := range strings.Split(s, ",") {
		var sec tensor.Sector
		nStr, dimStr, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, errors.Errorf("sector %q", pair)
		}
		n, err := strconv.Atoi(nStr)
		if err != nil {
			return nil, errors.Wrap(err, pair)
		}
		dim, err := strconv.Atoi(dimStr)
		if err != nil {
			return nil, errors.Wrap(err, pair)
		}
		sec.N, sec.Dim = n, dim
		qns = append(qns, sec)
	}
	return qns, nil
}
