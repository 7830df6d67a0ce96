package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func TestCreateRun_andGetRun(t *testing.T) {
	s := TestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "sha256", []string{"/a", "/b"})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "sha256", got.Algorithm)
	assert.Equal(t, []string{"/a", "/b"}, got.Roots)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)
	assert.Nil(t, got.CompletedAt)
	assert.Zero(t, got.Stats)
}

func TestGetRun_missingReturnsErrNoRows(t *testing.T) {
	s := TestStore(t)

	_, err := s.GetRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCompleteRun_setsStats(t *testing.T) {
	s := TestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "sha512", []string{"."})
	require.NoError(t, err)
	stats := RunStats{Files: 3, Bytes: 1024, Reused: 1, Errors: 2}
	require.NoError(t, s.CompleteRun(ctx, run.ID, stats))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, stats, got.Stats)
}

func TestListRuns_newestFirstWithLimit(t *testing.T) {
	s := TestStore(t)
	ctx := context.Background()

	// Insert directly to control ordering.
	for i, ts := range []string{"2024-01-01T00:00:00Z", "2024-01-03T00:00:00Z", "2024-01-02T00:00:00Z"} {
		_, err := s.exec(ctx, "INSERT INTO runs (id, algorithm, roots, created_at) VALUES (?, ?, ?, ?)",
			string(rune('a'+i)), "sha256", ".", ts)
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, err = s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestListRuns_sameSecondRunsStayNewestFirst(t *testing.T) {
	s := TestStore(t)
	ctx := context.Background()

	var ids []string
	var newest *Run
	for range 3 {
		run, err := s.CreateRun(ctx, "sha256", []string{"."})
		require.NoError(t, err)
		ids = append([]string{run.ID}, ids...)
		newest = run
		time.Sleep(time.Millisecond)
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	got, err := s.GetRun(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, newest.CreatedAt.Equal(got.CreatedAt), "stored %v, read %v", newest.CreatedAt, got.CreatedAt)
}

func TestInsertRecord_andRecordsForRun(t *testing.T) {
	s := TestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "sha256", []string{"/data"})
	require.NoError(t, err)

	require.NoError(t, s.InsertRecord(ctx, Record{
		RunID: run.ID, Path: "/data/b.txt", Algorithm: "sha256",
		Size: 3, MTime: 100, Inode: 7, DeviceID: int64p(1), Digest: "bb", Reused: true,
	}))
	require.NoError(t, s.InsertRecord(ctx, Record{
		RunID: run.ID, Path: "/data/a.txt", Algorithm: "sha256", Error: "access denied",
	}))

	recs, err := s.RecordsForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "/data/a.txt", recs[0].Path)
	assert.Empty(t, recs[0].Digest)
	assert.Equal(t, "access denied", recs[0].Error)
	assert.Nil(t, recs[0].DeviceID)
	assert.False(t, recs[0].Reused)

	assert.Equal(t, "/data/b.txt", recs[1].Path)
	assert.Equal(t, "bb", recs[1].Digest)
	assert.Empty(t, recs[1].Error)
	require.NotNil(t, recs[1].DeviceID)
	assert.Equal(t, int64(1), *recs[1].DeviceID)
	assert.True(t, recs[1].Reused)
	assert.False(t, recs[1].HashedAt.IsZero())
}

func TestCachedDigest(t *testing.T) {
	s := TestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "sha256", []string{"/data"})
	require.NoError(t, err)

	base := Record{RunID: run.ID, Path: "/data/f", Algorithm: "sha256", Size: 10, MTime: 50, Inode: 9, DeviceID: int64p(2)}
	old := base
	old.Digest = "old"
	require.NoError(t, s.InsertRecord(ctx, old))
	newer := base
	newer.Digest = "new"
	require.NoError(t, s.InsertRecord(ctx, newer))

	key := Key{Path: "/data/f", Algorithm: "sha256", Size: 10, MTime: 50, Inode: 9, DeviceID: int64p(2)}
	d, err := s.CachedDigest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "new", d, "newest matching record wins")

	changed := []struct {
		name string
		mut  func(k *Key)
	}{
		{"size", func(k *Key) { k.Size = 11 }},
		{"mtime", func(k *Key) { k.MTime = 51 }},
		{"inode", func(k *Key) { k.Inode = 10 }},
		{"device", func(k *Key) { k.DeviceID = int64p(3) }},
		{"nil device", func(k *Key) { k.DeviceID = nil }},
		{"algorithm", func(k *Key) { k.Algorithm = "sha512" }},
		{"path", func(k *Key) { k.Path = "/data/g" }},
	}
	for _, tt := range changed {
		t.Run(tt.name, func(t *testing.T) {
			k := key
			tt.mut(&k)
			d, err := s.CachedDigest(ctx, k)
			require.NoError(t, err)
			assert.Empty(t, d)
		})
	}
}

func TestCachedDigest_ignoresErrorRecords(t *testing.T) {
	s := TestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "sha256", nil)
	require.NoError(t, err)
	require.NoError(t, s.InsertRecord(ctx, Record{RunID: run.ID, Path: "/x", Algorithm: "sha256", Error: "i/o failure"}))

	d, err := s.CachedDigest(ctx, Key{Path: "/x", Algorithm: "sha256"})
	require.NoError(t, err)
	assert.Empty(t, d)
}

func TestDigestForInode(t *testing.T) {
	s := TestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "sha256", nil)
	require.NoError(t, err)
	other, err := s.CreateRun(ctx, "sha256", nil)
	require.NoError(t, err)

	require.NoError(t, s.InsertRecord(ctx, Record{
		RunID: run.ID, Path: "/a", Algorithm: "sha256", Inode: 42, DeviceID: int64p(1), Digest: "linked",
	}))

	d, err := s.DigestForInode(ctx, run.ID, "sha256", 42, int64p(1))
	require.NoError(t, err)
	assert.Equal(t, "linked", d)

	d, err = s.DigestForInode(ctx, other.ID, "sha256", 42, int64p(1))
	require.NoError(t, err)
	assert.Empty(t, d, "scoped to the run")

	d, err = s.DigestForInode(ctx, run.ID, "sha256", 0, int64p(1))
	require.NoError(t, err)
	assert.Empty(t, d, "unknown inode")

	d, err = s.DigestForInode(ctx, run.ID, "sha256", 42, nil)
	require.NoError(t, err)
	assert.Empty(t, d, "unknown device")
}

func TestDuplicateGroups(t *testing.T) {
	s := TestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "sha256", nil)
	require.NoError(t, err)

	for _, r := range []Record{
		{Path: "/small2", Size: 1, Digest: "s"},
		{Path: "/big1", Size: 100, Digest: "b"},
		{Path: "/small1", Size: 1, Digest: "s"},
		{Path: "/big2", Size: 100, Digest: "b"},
		{Path: "/unique", Size: 50, Digest: "u"},
		{Path: "/broken", Error: "not found"},
		{Path: "/broken2", Error: "not found"},
	} {
		r.RunID = run.ID
		r.Algorithm = "sha256"
		require.NoError(t, s.InsertRecord(ctx, r))
	}

	groups, err := s.DuplicateGroups(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []DuplicateGroup{
		{Digest: "b", Size: 100, Paths: []string{"/big1", "/big2"}},
		{Digest: "s", Size: 1, Paths: []string{"/small1", "/small2"}},
	}, groups)
}

func TestDeleteRun_cascadesToRecords(t *testing.T) {
	s := TestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, "sha256", nil)
	require.NoError(t, err)
	require.NoError(t, s.InsertRecord(ctx, Record{RunID: run.ID, Path: "/a", Algorithm: "sha256", Digest: "x"}))

	require.NoError(t, s.DeleteRun(ctx, run.ID))

	_, err = s.GetRun(ctx, run.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	recs, err := s.RecordsForRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPostgresStore_roundTrip(t *testing.T) {
	s := TestPostgresStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "sha384", []string{"/pg"})
	require.NoError(t, err)
	require.NoError(t, s.InsertRecord(ctx, Record{
		RunID: run.ID, Path: "/pg/a", Algorithm: "sha384", Size: 1, MTime: 2, Inode: 3, DeviceID: int64p(4), Digest: "d",
	}))
	require.NoError(t, s.InsertRecord(ctx, Record{
		RunID: run.ID, Path: "/pg/b", Algorithm: "sha384", Size: 1, MTime: 2, Inode: 5, DeviceID: int64p(4), Digest: "d",
	}))
	require.NoError(t, s.CompleteRun(ctx, run.ID, RunStats{Files: 2, Bytes: 2}))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, int64(2), got.Stats.Files)

	d, err := s.CachedDigest(ctx, Key{Path: "/pg/a", Algorithm: "sha384", Size: 1, MTime: 2, Inode: 3, DeviceID: int64p(4)})
	require.NoError(t, err)
	assert.Equal(t, "d", d)

	groups, err := s.DuplicateGroups(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"/pg/a", "/pg/b"}, groups[0].Paths)
}
