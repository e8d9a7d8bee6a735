package demogrammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dekarrin/spicyparse/internal/driver"
)

func Test_All_EachDemoSynthesizes(t *testing.T) {
	for _, dg := range All {
		dg := dg
		t.Run(dg.Name, func(t *testing.T) {
			plan, err := dg.Synthesize()
			require.NoError(t, err)
			assert.NotEmpty(t, plan.Steps)
		})
	}
}

func Test_Lookup_UnknownNameReturnsNil(t *testing.T) {
	assert.Nil(t, Lookup("does-not-exist"))
}

func Test_RequestLineDemo_ParsesSampleLine(t *testing.T) {
	dg := Lookup("request-line")
	require.NotNil(t, dg)
	plan, err := dg.Synthesize()
	require.NoError(t, err)

	d := driver.New(plan, nil)
	require.NoError(t, d.Process([]byte("GET /index HTTP/1.0\r\n")))
	val, err := d.Finish()
	require.NoError(t, err)

	method, _ := val.Get("method")
	assert.Equal(t, "GET", method)
}

func Test_CounterDemo_RepeatsNTimes(t *testing.T) {
	dg := Lookup("counter")
	require.NotNil(t, dg)
	plan, err := dg.Synthesize()
	require.NoError(t, err)

	ctx := dg.NewContext()
	d := driver.New(plan, ctx)
	require.NoError(t, d.Process([]byte{0x03, 0x01, 0x02, 0x03}))
	val, err := d.Finish()
	require.NoError(t, err)

	items, ok := val.Get("item")
	require.True(t, ok)
	assert.Len(t, items, 3)
}
