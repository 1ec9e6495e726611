package escrow

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaMatchesPublishedIDL(t *testing.T) {
	require.NoError(t, ValidateSchema())
}

func TestSchemaRejectsDrift(t *testing.T) {
	cases := map[string]func(string) string{
		"version": func(s string) string {
			return strings.Replace(s, "solfind-escrow/1", "solfind-escrow/2", 1)
		},
		"signer flag": func(s string) string {
			return strings.Replace(s, "{ name: reporter, writable: true, signer: true }", "{ name: reporter, writable: true, signer: false }", 1)
		},
		"arg type": func(s string) string {
			return strings.Replace(s, "{ name: reward_amount, type: u64 }", "{ name: reward_amount, type: u32 }", 1)
		},
		"account field": func(s string) string {
			return strings.Replace(s, "{ name: escrow_bump, type: u8 }", "{ name: bump, type: u8 }", 1)
		},
		"error code": func(s string) string {
			return strings.Replace(s, "{ code: 6001, name: ReportNotOpen }", "{ code: 6001, name: ReportClosed }", 1)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			mutated := mutate(string(publishedIDL))
			require.NotEqual(t, string(publishedIDL), mutated)
			require.Error(t, ValidateSchemaAgainst([]byte(mutated)))
		})
	}
}

func TestEncodeCreateInstructionLayout(t *testing.T) {
	data, err := EncodeInstruction(OpCreate, CreateArgs{ReportID: "wallet-123", RewardAmount: 5_000_000})
	require.NoError(t, err)

	disc := InstructionDiscriminator("create_report")
	require.True(t, bytes.HasPrefix(data, disc[:]))

	body := data[8:]
	require.Equal(t, uint32(len("wallet-123")), binary.LittleEndian.Uint32(body[:4]))
	require.Equal(t, "wallet-123", string(body[4:14]))
	require.Equal(t, uint64(5_000_000), binary.LittleEndian.Uint64(body[14:22]))
	require.Len(t, body, 22)

	spec, payload, err := DecodeInstruction(data)
	require.NoError(t, err)
	require.Equal(t, OpCreate, spec.Op)
	args, err := DecodeCreateArgs(payload)
	require.NoError(t, err)
	require.Equal(t, CreateArgs{ReportID: "wallet-123", RewardAmount: 5_000_000}, args)
}

func TestEncodeInstructionRejectsWrongArgs(t *testing.T) {
	_, err := EncodeInstruction(OpRelease, CreateArgs{})
	require.Error(t, err)
	_, err = EncodeInstruction(OpCreate, CreateArgs{ReportID: strings.Repeat("a", 51), RewardAmount: 1})
	require.True(t, errors.Is(err, ErrInvalidReportID))

	data, err := EncodeInstruction(OpCancel, CancelArgs{})
	require.NoError(t, err)
	require.Len(t, data, 8)
}

func TestDecodeInstructionUnknown(t *testing.T) {
	_, _, err := DecodeInstruction([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.ErrorIs(t, err, ErrInvalidInstruction)
	_, _, err = DecodeInstruction([]byte{1})
	require.ErrorIs(t, err, ErrInvalidInstruction)
}

func TestReportAccountRoundTrip(t *testing.T) {
	finder := newTestAddress(0x22)
	in := &Report{
		Reporter:     newTestAddress(0x11),
		Finder:       &finder,
		RewardAmount: 42,
		ReportID:     "keys_01",
		Status:       ReportReleased,
		EscrowBump:   254,
	}
	data, err := EncodeReport(in)
	require.NoError(t, err)
	out, err := DecodeReport(data)
	require.NoError(t, err)
	require.Equal(t, in, out)

	sanitized, err := SanitizeReport(out)
	require.NoError(t, err)
	require.Equal(t, out, sanitized)

	_, err = DecodeReport(data[1:])
	require.ErrorIs(t, err, ErrAccountNotInitialized)
}

func TestSanitizeReportRejectsInconsistentFinder(t *testing.T) {
	finder := newTestAddress(0x22)
	_, err := SanitizeReport(&Report{Reporter: newTestAddress(1), Finder: &finder, RewardAmount: 1, ReportID: "a", Status: ReportOpen})
	require.Error(t, err)
	_, err = SanitizeReport(&Report{Reporter: newTestAddress(1), RewardAmount: 1, ReportID: "a", Status: ReportReleased})
	require.Error(t, err)
}

func TestErrorFromCode(t *testing.T) {
	e, ok := ErrorFromCode(6001)
	require.True(t, ok)
	require.Same(t, ErrReportNotOpen, e)
	_, ok = ErrorFromCode(1)
	require.False(t, ok)
}
