package replication_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/kvscript/engine"
	"github.com/raniellyferreira/kvscript/replication"
)

type kvApplier struct {
	kv engine.KV
}

func (a kvApplier) Apply(b *engine.Batch) error {
	return a.kv.Write(b)
}

func ops(pairs ...string) []engine.Op {
	b := engine.NewBatch()
	for i := 0; i+1 < len(pairs); i += 2 {
		b.Put([]byte(pairs[i]), []byte(pairs[i+1]))
	}
	return b.Ops()
}

func TestLogAppendSince(t *testing.T) {
	log, err := replication.NewLog(0)
	require.NoError(t, err)
	assert.NotEmpty(t, log.ID())

	_, err = log.Append(nil)
	assert.Error(t, err)

	for i := 1; i <= 3; i++ {
		seq, err := log.Append(ops("k", "v"))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	assert.Equal(t, uint64(3), log.Offset())

	entries, err := log.Since(1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[0].Seq)
	assert.Equal(t, uint64(3), entries[1].Seq)

	entries, err = log.Since(3)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLogBacklogIsBounded(t *testing.T) {
	log, err := replication.NewLog(2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := log.Append(ops("k", "v"))
		require.NoError(t, err)
	}

	st := log.Stats()
	assert.Equal(t, 2, st.BacklogEntries)
	assert.Equal(t, uint64(4), st.FirstSeq)
	assert.Equal(t, uint64(5), st.Offset)

	_, err = log.Since(1)
	assert.ErrorIs(t, err, replication.ErrBacklogTrimmed)

	entries, err := log.Since(3)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEntryEncodingIsVerified(t *testing.T) {
	log, err := replication.NewLog(4)
	require.NoError(t, err)
	_, err = log.Append(ops("a", "1", "b", ""))
	require.NoError(t, err)

	entries, err := log.Since(0)
	require.NoError(t, err)
	data, err := replication.MarshalEntry(&entries[0])
	require.NoError(t, err)

	decoded, err := replication.UnmarshalEntry(data)
	require.NoError(t, err)
	assert.Equal(t, entries[0].Checksum, decoded.Checksum)

	tampered := entries[0]
	tampered.Seq = 9
	assert.ErrorIs(t, tampered.Verify(), replication.ErrChecksum)
}

func TestFollowerConverges(t *testing.T) {
	log, err := replication.NewLog(16)
	require.NoError(t, err)

	del := engine.NewBatch()
	del.Delete([]byte("a"))

	_, err = log.Append(ops("a", "1", "b", "2"))
	require.NoError(t, err)
	_, err = log.Append(del.Ops())
	require.NoError(t, err)

	kv, err := engine.OpenMemory()
	require.NoError(t, err)
	defer kv.Close()

	var applied []uint64
	f := replication.NewFollower(kvApplier{kv}, nil)
	f.OnApply(func(e *replication.Entry) { applied = append(applied, e.Seq) })

	n, err := f.CatchUp(log)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{1, 2}, applied)
	assert.Equal(t, uint64(2), f.Offset())

	_, err = kv.Get([]byte("a"))
	assert.ErrorIs(t, err, engine.ErrNotFound)
	v, err := kv.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))

	n, err = f.CatchUp(log)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFollowerRejectsGap(t *testing.T) {
	log, err := replication.NewLog(16)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = log.Append(ops("k", "v"))
		require.NoError(t, err)
	}
	entries, err := log.Since(1)
	require.NoError(t, err)

	kv, err := engine.OpenMemory()
	require.NoError(t, err)
	defer kv.Close()

	f := replication.NewFollower(kvApplier{kv}, nil)
	assert.Error(t, f.ApplyEntry(&entries[0]))
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]replication.Role{
		"":        replication.RolePrimary,
		"primary": replication.RolePrimary,
		"master":  replication.RolePrimary,
		"Replica": replication.RoleReplica,
		"slave":   replication.RoleReplica,
	} {
		got, err := replication.ParseRole(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := replication.ParseRole("leader")
	assert.Error(t, err)
	assert.True(t, replication.RoleReplica.IsReplica())
}
