package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dandantas/studyrunner/internal/database/memory"
	"github.com/dandantas/studyrunner/internal/model"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	mu        sync.Mutex
	submitted []string
	revoked   []string
	submitErr error
	seq       int
}

func (p *fakePool) Submit(jobID, ownerID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return "", p.submitErr
	}
	p.seq++
	p.submitted = append(p.submitted, jobID)
	return fmt.Sprintf("handle-%d", p.seq), nil
}

func (p *fakePool) Revoke(handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, handle)
	return nil
}

func (p *fakePool) revokedHandles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

type testEnv struct {
	store      *memory.Store
	pool       *fakePool
	jobs       *JobService
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	pool := &fakePool{}
	jobs := NewJobService(store, store, store, store, JobOptions{MaxJobsPerUser: 3, InstanceID: "test"})
	return &testEnv{
		store:      store,
		pool:       pool,
		jobs:       jobs,
		dispatcher: NewDispatcher(pool, jobs),
	}
}

func (e *testEnv) createUser(t *testing.T, username string) *model.User {
	t.Helper()
	user := &model.User{Username: username, Active: true}
	user.Settings.SetDefaults()
	require.NoError(t, e.store.CreateUser(context.Background(), user))
	return user
}

func (e *testEnv) mustGet(t *testing.T, job *model.Job) *model.Job {
	t.Helper()
	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	return got
}
