package dockerimage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainClassicBuildOutput_Success(t *testing.T) {
	stream := strings.NewReader(
		`{"stream":"Step 1/2 : FROM ubuntu:22.04\n"}` + "\n" +
			`{"stream":"Step 2/2 : CMD [\"sleep\",\"infinity\"]\n"}` + "\n" +
			`{"aux":{"ID":"sha256:abc123"}}` + "\n",
	)

	res, err := drainClassicBuildOutput(stream)
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc123", res.ImageID)
	assert.Contains(t, res.Log, "Step 1/2")
}

func TestDrainClassicBuildOutput_ErrorDetailWinsOverLaterAux(t *testing.T) {
	// §4.B tie-break: an errorDetail seen anywhere beats a later successful aux.
	stream := strings.NewReader(
		`{"errorDetail":{"message":"executor failed running [RUN false]"}}` + "\n" +
			`{"aux":{"ID":"sha256:shouldnotwin"}}` + "\n",
	)

	res, err := drainClassicBuildOutput(stream)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "executor failed running")
}

func TestDrainClassicBuildOutput_PlainErrorField(t *testing.T) {
	stream := strings.NewReader(`{"error":"no such file"}` + "\n")

	res, err := drainClassicBuildOutput(stream)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "no such file")
}

func TestDrainClassicBuildOutput_CarriesFullLogOnFailure(t *testing.T) {
	var be *BuildError
	stream := strings.NewReader(
		`{"stream":"Step 1/3 : FROM ubuntu:22.04\n"}` + "\n" +
			`{"stream":"Step 2/3 : RUN false\n"}` + "\n" +
			`{"errorDetail":{"message":"exit code 1"}}` + "\n",
	)

	_, err := drainClassicBuildOutput(stream)
	require.Error(t, err)
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Log, "Step 1/3")
	assert.Contains(t, be.Log, "Step 2/3")
}

func TestResolveTag(t *testing.T) {
	assert.Equal(t, "myimage:abc123", ResolveTag("myimage", "abc123"))
	assert.Equal(t, "myimage", ResolveTag("myimage", ""))
}
