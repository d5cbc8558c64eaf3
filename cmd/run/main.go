// Command run studies how hard a random matrix product state can be
// compressed: for a range of bond dimension caps it canonicalizes,
// compresses, and reports the discarded weight and the fidelity with the
// uncompressed state. Each configuration is checkpointed to a sqlite
// snapshot store and exported in coordinate format, so finished points are
// skipped on rerun.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/zqguo/mps"
	"github.com/zqguo/mps/store"
	"github.com/zqguo/mps/tensor"
)

const (
	fnameDone   = "done.txt"
	fnameResult = "result.txt"
	fnameDB     = "snapshots.db"
)

var (
	runDir = flag.String("d", filepath.Join("runs", "compress"), "run directory")
	nsite  = flag.Int("n", 12, "number of sites")
	dim    = flag.Int("dim", 2, "physical dimension per site")
	nsweep = flag.Int("sweeps", 3, "compression sweeps per configuration")
	seed   = flag.Uint64("seed", 1, "random seed")
)

type Result struct {
	NSite     int
	NMax      int
	BondDim   int
	Discarded float64
	Fidelity  float64
	Snapshot  string
}

// chainLabels builds the site and bond labels of an n-site chain.
func chainLabels(n, d int) ([]tensor.Label, []tensor.Label) {
	sites := make([]tensor.Label, 0, n)
	bonds := make([]tensor.Label, 0, n+1)
	for i := 0; i < n; i++ {
		sites = append(sites, tensor.NewLabel(fmt.Sprintf("s%d", i), d, tensor.None))
		bonds = append(bonds, tensor.NewLabel(fmt.Sprintf("b%d", i), 1, tensor.None))
	}
	bonds = append(bonds, tensor.NewLabel(fmt.Sprintf("b%d", n), 1, tensor.None))
	return sites, bonds
}

func solve(dir string, st *store.Store, full *mps.MPS, nmax int) error {
	donePath := filepath.Join(dir, fnameDone)
	if _, err := os.Stat(donePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	m := full.Copy()
	if _, err := m.Canonicalize(m.Len()/2, mps.Trunc{NMax: nmax}); err != nil {
		return errors.Wrap(err, "")
	}
	weights, err := m.Compress(*nsweep, m.Len()/2, mps.Trunc{NMax: nmax})
	if err != nil {
		return errors.Wrap(err, "")
	}
	var discarded float64
	for _, w := range weights {
		discarded += w
	}

	f, err := fidelity(full, m)
	if err != nil {
		return errors.Wrap(err, "")
	}

	id, err := st.Save(fmt.Sprintf("n%d/nmax%d", full.Len(), nmax), m)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := store.Export(filepath.Join(dir, "coo"), m); err != nil {
		return errors.Wrap(err, "")
	}

	r := Result{
		NSite:     full.Len(),
		NMax:      nmax,
		BondDim:   m.NMax(),
		Discarded: discarded,
		Fidelity:  f,
		Snapshot:  id,
	}
	b, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(filepath.Join(dir, fnameResult), b, 0644); err != nil {
		return errors.Wrap(err, "")
	}

	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// fidelity is |<b|a>| / (|a| |b|).
func fidelity(a, b *mps.MPS) (float64, error) {
	ov, err := mps.Overlap(a, b)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	na, err := a.Norm()
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	nb, err := b.Norm()
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	f := ov / (na * nb)
	if f < 0 {
		f = -f
	}
	return f, nil
}

func gather(dir string, nmaxs []int) ([]Result, error) {
	results := make([]Result, 0, len(nmaxs))
	for _, nmax := range nmaxs {
		b, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("nmax%d", nmax), fnameResult))
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("nmax %d", nmax))
		}
		var r Result
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("nmax %d", nmax))
		}
		results = append(results, r)
	}
	return results, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	st, err := store.Open(filepath.Join(*runDir, fnameDB))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer st.Close()

	rng := rand.New(rand.NewPCG(*seed, 0))
	sites, bonds := chainLabels(*nsite, *dim)
	full, err := mps.Random(rng, sites, bonds, *nsite/2, 64)
	if err != nil {
		return errors.Wrap(err, "")
	}

	nmaxs := make([]int, 0)
	for nmax := 1; nmax <= full.NMax(); nmax *= 2 {
		nmaxs = append(nmaxs, nmax)
	}
	for _, nmax := range nmaxs {
		dir := filepath.Join(*runDir, fmt.Sprintf("nmax%d", nmax))
		if err := solve(dir, st, full, nmax); err != nil {
			return errors.Wrap(err, fmt.Sprintf("nmax %d", nmax))
		}
		log.Printf("nmax %d done", nmax)
	}

	results, err := gather(*runDir, nmaxs)
	if err != nil {
		return errors.Wrap(err, "")
	}
	fmt.Printf("nsite,nmax,bond,discarded,fidelity,snapshot\n")
	for _, r := range results {
		fmt.Printf("%d,%d,%d,%g,%f,%s\n", r.NSite, r.NMax, r.BondDim, r.Discarded, r.Fidelity, r.Snapshot)
	}
	return nil
}
