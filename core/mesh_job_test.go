package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestMeshRuntime(t *testing.T) (*MeshRuntime, *ManaLedger, DID) {
	t.Helper()
	mana := NewManaLedger(ManaLedgerConfig{BaseCapacity: 10_000}, nil)
	did, err := ParseDID("did:icn:creator")
	require.NoError(t, err)
	mana.OpenAccount(did, OrgCooperative, HardwareMetrics{Cores: 2})
	require.NoError(t, mana.SetBalance(did, 1000))
	return NewMeshRuntime(MeshRuntimeConfig{}, mana, nil), mana, did
}

func echoJobPayload(t *testing.T, cost uint64) []byte {
	t.Helper()
	raw := jobJSON{
		ManifestCID: "manifest-1",
		SpecKind: JobSpecEcho,
		Payload: []byte("hello"),
		CostMana: cost,
		MaxWaitMs: 5000,
	}
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	return b
}

func TestSubmitJobSpendsManaAndEnqueues(t *testing.T) {
	r, mana, did := newTestMeshRuntime(t)
	job, err := r.SubmitJob(context.Background(), did, echoJobPayload(t, 100))
	require.NoError(t, err)
	require.Equal(t, JobPending, job.State)

	bal, err := mana.GetBalance(did)
	require.NoError(t, err)
	require.Equal(t, uint64(900), bal)

	pending := r.PendingJobs()
	require.Len(t, pending, 1)
	require.True(t, pending[0].ID.Equal(job.ID))
}

func TestSubmitJobRejectsUnknownSpecKindWithoutSpendingMana(t *testing.T) {
	r, mana, did := newTestMeshRuntime(t)
	raw := jobJSON{SpecKind: "not-a-real-kind", CostMana: 50}
	b, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = r.SubmitJob(context.Background(), did, b)
	require.ErrorIs(t, err, ErrUnknownJobSpec)

	bal, err := mana.GetBalance(did)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), bal, "a pre-queue validation failure must never spend mana")
}

func TestSubmitJobInsufficientManaFails(t *testing.T) {
	r, _, did := newTestMeshRuntime(t)
	_, err := r.SubmitJob(context.Background(), did, echoJobPayload(t, 5000))
	require.ErrorIs(t, err, ErrInsufficientMana)
}

func TestJobLifecycleAnnounceAssignExecuteComplete(t *testing.T) {
	r, _, did := newTestMeshRuntime(t)
	job, err := r.SubmitJob(context.Background(), did, echoJobPayload(t, 50))
	require.NoError(t, err)

	require.NoError(t, r.Announce(job.ID))
	executor, _ := ParseDID("did:icn:executor")
	require.NoError(t, r.Assign(job.ID, executor))
	require.NoError(t, r.StartExecution(job.ID))
	require.NoError(t, r.Complete(job.ID))

	got, err := r.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, JobCompleted, got.State)
	require.Equal(t, executor, got.Assignee)
}

func TestFailNoBidsRefundsCreator(t *testing.T) {
	r, mana, did := newTestMeshRuntime(t)
	job, err := r.SubmitJob(context.Background(), did, echoJobPayload(t, 100))
	require.NoError(t, err)
	require.NoError(t, r.Announce(job.ID))

	balBefore, _ := mana.GetBalance(did)
	require.NoError(t, r.FailNoBids(job.ID))

	got, err := r.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, JobFailed, got.State)
	require.Equal(t, FailureNoBids, got.FailureReason)

	balAfter, err := mana.GetBalance(did)
	require.NoError(t, err)
	require.Equal(t, balBefore+100, balAfter)
}

func TestRetryOrFailExhaustsRetriesThenRefunds(t *testing.T) {
	mana := NewManaLedger(ManaLedgerConfig{BaseCapacity: 10_000}, nil)
	did, _ := ParseDID("did:icn:creator2")
	mana.OpenAccount(did, OrgCooperative, HardwareMetrics{Cores: 1})
	require.NoError(t, mana.SetBalance(did, 1000))
	r := NewMeshRuntime(MeshRuntimeConfig{MaxRetries: 2}, mana, nil)

	job, err := r.SubmitJob(context.Background(), did, echoJobPayload(t, 100))
	require.NoError(t, err)
	require.NoError(t, r.Announce(job.ID))
	executor, _ := ParseDID("did:icn:executor2")
	require.NoError(t, r.Assign(job.ID, executor))

	require.NoError(t, r.RetryOrFail(job.ID))
	got, _ := r.Get(job.ID)
	require.Equal(t, JobPending, got.State)

	require.NoError(t, r.Announce(job.ID))
	require.NoError(t, r.Assign(job.ID, executor))
	require.NoError(t, r.RetryOrFail(job.ID))
	got, _ = r.Get(job.ID)
	require.Equal(t, JobPending, got.State)

	require.NoError(t, r.Announce(job.ID))
	require.NoError(t, r.Assign(job.ID, executor))
	require.NoError(t, r.RetryOrFail(job.ID))
	got, err = r.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, JobFailed, got.State)
	require.Equal(t, FailureExecutorUnresponsive, got.FailureReason)

	bal, err := mana.GetBalance(did)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), bal, "exhausting retries must fully refund cost_mana")
}
