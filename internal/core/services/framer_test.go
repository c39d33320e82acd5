package services

import (
	"encoding/json"
	"testing"

	"midilink/internal/core/domain"
	apperrors "midilink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramer_RoundTrip(t *testing.T) {
	sysex := make([]byte, 2048)
	sysex[0] = 0xF0
	for i := 1; i < len(sysex)-1; i++ {
		sysex[i] = byte(i % 0x80)
	}
	sysex[len(sysex)-1] = 0xF7

	for _, codec := range []string{CodecJSON, CodecCBOR} {
		framer, err := NewFramer(codec)
		require.NoError(t, err)

		cases := []struct {
			name    string
			payload []byte
			target  domain.Target
			want    domain.Target
		}{
			{"note on", []byte{0x90, 60, 100}, domain.TargetSynth, domain.TargetSynth},
			{"empty target", []byte{0xB0, 7, 127}, "", domain.TargetDefault},
			{"custom target", []byte{0xC0, 5}, "drums", "drums"},
			{"long sysex", sysex, domain.TargetControl, domain.TargetControl},
		}

		for _, tc := range cases {
			t.Run(codec+"/"+tc.name, func(t *testing.T) {
				raw, err := framer.Encode(tc.payload, 1234.5, tc.target)
				require.NoError(t, err)

				env, err := framer.Decode(raw)
				require.NoError(t, err)
				assert.Equal(t, tc.payload, env.Payload)
				assert.Equal(t, 1234.5, env.SendTimestamp)
				assert.Equal(t, tc.want, env.Target)
			})
		}
	}
}

func TestFramer_JSONWireFormat(t *testing.T) {
	framer, err := NewFramer(CodecJSON)
	require.NoError(t, err)

	raw, err := framer.Encode([]byte{0x90, 60, 100}, 1000, domain.TargetSynth)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, []interface{}{float64(0x90), float64(60), float64(100)}, wire["data"])
	assert.Equal(t, float64(1000), wire["timestamp"])
	assert.Equal(t, "synth", wire["target"])
}

func TestFramer_DecodeBrowserFrameWithoutTarget(t *testing.T) {
	framer, err := NewFramer(CodecJSON)
	require.NoError(t, err)

	env, err := framer.Decode([]byte(`{"data":[144,60,100],"timestamp":12.5}`))
	require.NoError(t, err)
	assert.Equal(t, domain.TargetDefault, env.Target)
	assert.Equal(t, []byte{0x90, 60, 100}, env.Payload)
}

func TestFramer_EncodeRejectsEmptyPayload(t *testing.T) {
	framer, err := NewFramer(CodecJSON)
	require.NoError(t, err)

	_, err = framer.Encode(nil, 1, domain.TargetDefault)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidPayload))
}

func TestFramer_DecodeMalformed(t *testing.T) {
	framer, err := NewFramer(CodecJSON)
	require.NoError(t, err)

	cases := map[string]string{
		"not json":       `note on please`,
		"truncated":      `{"data":[144,60`,
		"missing data":   `{"timestamp":1,"target":"synth"}`,
		"empty data":     `{"data":[],"timestamp":1}`,
		"out of range":   `{"data":[144,60,300],"timestamp":1}`,
		"negative byte":  `{"data":[-1],"timestamp":1}`,
		"wrong type":     `{"data":"kA==","timestamp":1}`,
		"array envelope": `[144,60,100]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := framer.Decode([]byte(raw))
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedEnvelope))
		})
	}
}

func TestFramer_CBORRejectsJSON(t *testing.T) {
	framer, err := NewFramer(CodecCBOR)
	require.NoError(t, err)

	_, err = framer.Decode([]byte(`{"data":[144,60,100],"timestamp":1}`))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedEnvelope))
}

func TestNewFramer_UnknownCodec(t *testing.T) {
	_, err := NewFramer("msgpack")
	assert.Error(t, err)

	f, err := NewFramer("")
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, f.Codec())
}
