package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/readuntil/interval"
	"github.com/grailbio/readuntil/reads"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

const exampleTOML = `
split_axis = 1
channels = 512
unblock_duration = 0.1

[caller_settings.no_op]

[mapper_settings.no_op]

[[regions]]
name = "select_chr20"
min_chunks = 0
max_chunks = 4
targets = ["chr20", "chr21,0,1000000,+"]
single_on = "stop_receiving"
multi_on = "stop_receiving"
single_off = "unblock"
multi_off = "unblock"
no_seq = "proceed"
no_map = "proceed"

[[regions]]
name = "control"
control = true
min_chunks = 0
max_chunks = 4
targets = ["chr20"]
single_on = "stop_receiving"
multi_on = "stop_receiving"
single_off = "unblock"
multi_off = "unblock"
no_seq = "proceed"
no_map = "proceed"
`

func TestLoadAndCompile(t *testing.T) {
	c, err := Parse(strings.NewReader(exampleTOML))
	require.NoError(t, err)
	expect.EQ(t, c.SplitAxis, 1)
	expect.EQ(t, c.Channels, 512)
	expect.EQ(t, c.Caller.Name, "no_op")
	expect.EQ(t, c.Mapper.Name, "no_op")

	e, err := c.Compile()
	require.NoError(t, err)
	require.Equal(t, 2, len(e.Regions))
	r := e.Regions[0]
	expect.EQ(t, r.Name, "select_chr20")
	expect.EQ(t, r.Action(reads.SingleOn), reads.StopReceiving)
	expect.EQ(t, r.Action(reads.SingleOff), reads.Unblock)
	expect.EQ(t, r.Action(reads.NoMap), reads.Proceed)
	// Defaults for the optional outcomes.
	expect.EQ(t, r.Action(reads.AboveMaxChunks), reads.Unblock)
	expect.EQ(t, r.Action(reads.BelowMinChunks), reads.Proceed)
	expect.True(t, r.Targets.Contains("chr20", interval.Forward, 123456789))
	expect.False(t, r.Targets.Contains("chr21", interval.Reverse, 500))
	expect.True(t, e.Regions[1].Control)
	expect.False(t, e.BarcodingEnabled())
}

func TestRoundTrip(t *testing.T) {
	c, err := Parse(strings.NewReader(exampleTOML))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf))
	c2, err := Parse(&buf)
	require.NoError(t, err)
	require.Equal(t, c, c2)
}

func TestValidateReportsAllProblems(t *testing.T) {
	bad := `
split_axis = 3

[caller_settings.no_op]

[mapper_settings.no_op]

[[regions]]
name = "r"
min_chunks = 5
max_chunks = 2
targets = ["chr1"]
single_on = "stop_recieving"
multi_on = "stop_receiving"
single_off = "unblock"
multi_off = "unblock"
no_seq = "proceed"
`
	c, err := Parse(strings.NewReader(bad))
	require.NoError(t, err)
	err = c.Validate()
	require.Error(t, err)
	inv := err.(*InvalidError)
	fields := make(map[string]string)
	for _, p := range inv.Problems {
		fields[p.Field] = p.Reason
	}
	expect.EQ(t, len(inv.Problems), 4)
	expect.HasSubstr(t, fields["split_axis"], "must be 0 or 1")
	expect.HasSubstr(t, fields["regions[0].max_chunks"], ">= min_chunks")
	expect.HasSubstr(t, fields["regions[0].single_on"], `did you mean "stop_receiving"`)
	expect.HasSubstr(t, fields["regions[0].no_map"], "required")
}

func TestValidateBarcodes(t *testing.T) {
	cond := `
name = "bc"
min_chunks = 0
max_chunks = 4
targets = ["chr1"]
single_on = "stop_receiving"
multi_on = "stop_receiving"
single_off = "unblock"
multi_off = "unblock"
no_seq = "proceed"
no_map = "proceed"
`
	doc := `
[caller_settings.no_op]
[mapper_settings.no_op]
[barcodes.barcode01]
` + cond
	c, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	err = c.Validate()
	require.Error(t, err)
	inv := err.(*InvalidError)
	var fields []string
	for _, p := range inv.Problems {
		fields = append(fields, p.Field)
	}
	expect.EQ(t, len(fields), 2)
	expect.HasSubstr(t, strings.Join(fields, " "), "barcodes.classified")
	expect.HasSubstr(t, strings.Join(fields, " "), "barcodes.unclassified")

	full := doc + "\n[barcodes.classified]\n" + cond + "\n[barcodes.unclassified]\n" + cond
	c, err = Parse(strings.NewReader(full))
	require.NoError(t, err)
	expect.NoError(t, c.Validate())
	e, err := c.Compile()
	require.NoError(t, err)
	expect.True(t, e.BarcodingEnabled())
}

func TestMissingSelectors(t *testing.T) {
	c, err := Parse(strings.NewReader(`[[regions]]
name = "r"
min_chunks = 0
max_chunks = 1
targets = ["chr1"]
single_on = "proceed"
multi_on = "proceed"
single_off = "proceed"
multi_off = "proceed"
no_seq = "proceed"
no_map = "proceed"
`))
	require.NoError(t, err)
	err = c.Validate()
	require.Error(t, err)
	expect.HasSubstr(t, err.Error(), "caller_settings")
	expect.HasSubstr(t, err.Error(), "mapper_settings")
}
