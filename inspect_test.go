package statectx

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect_YAML(t *testing.T) {
	env := newTestEnv(t)

	_, err := newCounterRoot("counter").Mount(env.scope, Params{"start": 5})
	require.NoError(t, err)
	env.scope.Lookup("settings").Publish("theme", "dark")

	out, err := env.scope.Inspect().YAML()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "inspect_manual", out)
}

func TestInspect_ManagerAndGraph(t *testing.T) {
	env := newTestEnv(t)
	counter := NewAuto(newCounterRoot("counter"))
	sum := NewAuto(newSumRoot(counter))

	_, release, err := sum.Acquire(env.scope, Params{"start": 2})
	require.NoError(t, err)
	defer release()
	env.scope.Flush()

	in := env.scope.Inspect()
	assert.Equal(t, env.scope.Generation(), in.Generation)

	var names []string
	for _, st := range in.Stores {
		names = append(names, st.Name)
		assert.True(t, st.Mounted, st.Name)
	}
	assert.Equal(t, []string{"counter?start=2", "sum?start=2"}, names)
	assert.NotContains(t, names, ManagerStoreName)

	require.Len(t, in.Instances, 2)
	assert.Equal(t, "counter?start=2", in.Instances[0].Name)
	assert.Equal(t, "sum?start=2", in.Instances[1].Name)
	assert.Equal(t, []string{"counter?start=2"}, in.Graph["sum?start=2"])
}

func TestInspect_ScopeID(t *testing.T) {
	env := newTestEnv(t, WithScopeID("modal"))
	counter := NewAuto(newCounterRoot("counter"))

	_, release, err := counter.Acquire(env.scope, nil)
	require.NoError(t, err)
	defer release()
	env.scope.Flush()

	in := env.scope.Inspect()
	require.Len(t, in.Stores, 1)
	assert.Equal(t, "modal/counter", in.Stores[0].Name)
	assert.Contains(t, env.scope.StoreNames(), "modal/"+ManagerStoreName)
}
