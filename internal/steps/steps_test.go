package steps

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localauth/internal/credentials"
)

type recorder struct {
	calls []string
	fail  map[string]error
}

func (r *recorder) step(name string) Applier {
	return applierFunc(func(context.Context, *credentials.Set) error {
		r.calls = append(r.calls, name)
		return r.fail[name]
	})
}

type applierFunc func(ctx context.Context, set *credentials.Set) error

func (f applierFunc) Apply(ctx context.Context, set *credentials.Set) error {
	return f(ctx, set)
}

func newStack(r *recorder) Stack {
	return Stack{
		IdentityProvider: r.step(StepIdentityProvider),
		Directory:        r.step(StepDirectory),
		NetworkAuth:      r.step(StepNetworkAuth),
	}
}

func TestRunner_Order(t *testing.T) {
	r := &recorder{}
	runner := NewRunner(newStack(r), nil)

	require.NoError(t, runner.Apply(context.Background(), &credentials.Set{}))
	assert.Equal(t, Names(), r.calls)
}

func TestRunner_StopsAtFirstFailure(t *testing.T) {
	tests := []struct {
		failing string
		want    []string
	}{
		{StepIdentityProvider, []string{StepIdentityProvider}},
		{StepDirectory, []string{StepIdentityProvider, StepDirectory}},
		{StepNetworkAuth, []string{StepIdentityProvider, StepDirectory, StepNetworkAuth}},
	}

	for _, tt := range tests {
		t.Run(tt.failing, func(t *testing.T) {
			cause := errors.New("api rejected request")
			r := &recorder{fail: map[string]error{tt.failing: cause}}

			err := NewRunner(newStack(r), nil).Apply(context.Background(), &credentials.Set{})

			var failure *StepFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.failing, failure.Step)
			assert.ErrorIs(t, err, cause)
			assert.Equal(t, tt.want, r.calls)
		})
	}
}

func TestRunner_RerunAfterFailure(t *testing.T) {
	r := &recorder{fail: map[string]error{StepDirectory: errors.New("ldap down")}}
	runner := NewRunner(newStack(r), nil)

	require.Error(t, runner.Apply(context.Background(), &credentials.Set{}))
	delete(r.fail, StepDirectory)
	r.calls = nil

	require.NoError(t, runner.Apply(context.Background(), &credentials.Set{}))
	assert.Equal(t, Names(), r.calls)
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &recorder{}
	err := NewRunner(newStack(r), nil).Apply(ctx, &credentials.Set{})

	var failure *StepFailure
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.calls)
}
