package store

import (
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zqguo/mps"
	"github.com/zqguo/mps/tensor"
)

func chainLabels(n int, qns tensor.QNs) ([]tensor.Label, []tensor.Label) {
	sites := make([]tensor.Label, 0, n)
	bonds := make([]tensor.Label, 0, n+1)
	for i := 0; i < n; i++ {
		if qns != nil {
			sites = append(sites, tensor.NewQNLabel(fmt.Sprintf("s%d", i), qns, tensor.None))
			bonds = append(bonds, tensor.NewQNLabel(fmt.Sprintf("v%d", i), tensor.Mono(0, 1), tensor.None))
		} else {
			sites = append(sites, tensor.NewLabel(fmt.Sprintf("s%d", i), 2, tensor.None))
			bonds = append(bonds, tensor.NewLabel(fmt.Sprintf("v%d", i), 1, tensor.None))
		}
	}
	if qns != nil {
		bonds = append(bonds, tensor.NewQNLabel(fmt.Sprintf("v%d", n), tensor.Mono(1, 1), tensor.None))
	} else {
		bonds = append(bonds, tensor.NewLabel(fmt.Sprintf("v%d", n), 1, tensor.None))
	}
	return sites, bonds
}

func TestStore(t *testing.T) {
	t.Parallel()
	st, err := Open(filepath.Join(t.TempDir(), "chains.db"))
	require.NoError(t, err)
	defer st.Close()

	rng := rand.New(rand.NewPCG(1, 2))
	sites, bonds := chainLabels(4, nil)
	m, err := mps.Random(rng, sites, bonds, 2, 4)
	require.NoError(t, err)
	state, err := m.State()
	require.NoError(t, err)

	id, err := st.Save("random4", m)
	require.NoError(t, err)

	loaded, err := st.Load(id)
	require.NoError(t, err)
	assert.Equal(t, m.Mode(), loaded.Mode())
	assert.Equal(t, m.Len(), loaded.Len())
	assert.Equal(t, m.Cut(), loaded.Cut())
	for i := 0; i < m.Len(); i++ {
		assert.Equal(t, m.Tensor(i).Labels(), loaded.Tensor(i).Labels(), i)
	}
	require.NotNil(t, loaded.Lambda())
	assert.InDeltaSlice(t, m.Lambda().Data(), loaded.Lambda().Data(), 1e-12)
	got, err := loaded.State()
	require.NoError(t, err)
	assert.InDeltaSlice(t, state, got, 1e-12)

	snaps, err := st.List()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, id, snaps[0].ID)
	assert.Equal(t, "random4", snaps[0].Name)
	assert.Equal(t, 4, snaps[0].NSite)
	assert.Equal(t, 2, snaps[0].Cut)

	require.NoError(t, st.Delete(id))
	_, err = st.Load(id)
	assert.Error(t, err)
	snaps, err = st.List()
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestStoreScalarCenter(t *testing.T) {
	t.Parallel()
	st, err := Open(filepath.Join(t.TempDir(), "chains.db"))
	require.NoError(t, err)
	defer st.Close()

	// Reset installs a label-free unit scalar center.
	sites, bonds := chainLabels(2, nil)
	m, err := mps.ProductState([][]float64{{1, 0}, {0, 1}}, sites, bonds)
	require.NoError(t, err)
	require.NoError(t, m.Reset(1))
	require.True(t, m.Lambda().IsScalar())
	state, err := m.State()
	require.NoError(t, err)

	id, err := st.Save("reset", m)
	require.NoError(t, err)
	loaded, err := st.Load(id)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Cut())
	require.NotNil(t, loaded.Lambda())
	assert.True(t, loaded.Lambda().IsScalar())
	assert.Equal(t, m.Lambda().Data(), loaded.Lambda().Data())
	got, err := loaded.State()
	require.NoError(t, err)
	assert.InDeltaSlice(t, state, got, 1e-12)
}

func TestStoreQN(t *testing.T) {
	t.Parallel()
	st, err := Open(filepath.Join(t.TempDir(), "chains.db"))
	require.NoError(t, err)
	defer st.Close()

	qubit := tensor.QNs{{N: 0, Dim: 1}, {N: 1, Dim: 1}}
	sites, bonds := chainLabels(2, qubit)
	m, err := mps.ProductState([][]float64{{1, 0}, {0, 1}}, sites, bonds)
	require.NoError(t, err)

	id, err := st.Save("graded", m)
	require.NoError(t, err)
	loaded, err := st.Load(id)
	require.NoError(t, err)
	assert.Equal(t, mps.QN, loaded.Mode())
	for i := 0; i < m.Len(); i++ {
		assert.Equal(t, m.Tensor(i).Labels(), loaded.Tensor(i).Labels(), i)
	}
	// A chain without a center loads without one.
	assert.Equal(t, -1, loaded.Cut())
	assert.Nil(t, loaded.Lambda())
}

func TestExport(t *testing.T) {
	t.Parallel()
	sites, bonds := chainLabels(2, nil)
	m, err := mps.FromState([]float64{0.8, 0, 0, 0.6}, sites, bonds, 1, mps.Trunc{})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, Export(dir, m))

	for _, sub := range []string{"m0", "m1", "lambda"} {
		for _, fname := range []string{FnameShape, FnameCOO} {
			_, err := os.Stat(filepath.Join(dir, sub, fname))
			assert.NoError(t, err, sub)
		}
	}

	// Only the two nonzero singular values are written.
	f, err := os.Open(filepath.Join(dir, "lambda", FnameCOO))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	v0, err := strconv.ParseFloat(rows[0][0], 64)
	require.NoError(t, err)
	v1, err := strconv.ParseFloat(rows[1][0], 64)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, v0, 1e-12)
	assert.InDelta(t, 0.6, v1, 1e-12)
	assert.Equal(t, "0", rows[0][1])
	assert.Equal(t, "1", rows[1][1])

	// The exported site tensors read back exactly.
	for i := 0; i < m.Len(); i++ {
		data, shape, err := ReadCOO(filepath.Join(dir, fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
		assert.Equal(t, m.Tensor(i).Shape(), shape, i)
		assert.Equal(t, m.Tensor(i).Data(), data, i)
	}
}
