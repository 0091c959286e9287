package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "Email,password,Name,AddressLine1,City,Postcode,MobileNumber,dob_day,dob_month,dob_year\n"

func TestLoad(t *testing.T) {
	in := header +
		"ann@example.com,pw1,Ann Lee Smith,1 High St,London,SW19 5AE,07700900001,3,March,1990\n" +
		"bob@example.com,pw2,Bob,2 Low St,Leeds,LS1 1AA,07700900002,,,\n"

	set, err := Load(strings.NewReader(in), zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, set.Profiles, 2)
	assert.Empty(t, set.Skipped)

	ann := set.Profiles[0]
	assert.Equal(t, "ann@example.com", ann.Email)
	assert.Equal(t, "Ann", ann.FirstName())
	assert.Equal(t, "Lee Smith", ann.LastName())
	assert.Equal(t, DOB{Day: "3", Month: "March", Year: "1990"}, ann.DOB)

	bob := set.Profiles[1]
	assert.Equal(t, "Bob", bob.FirstName())
	assert.Equal(t, "", bob.LastName())
	assert.Equal(t, DOB{}, bob.DOB)
}

func TestLoadSkipsUnusableRecords(t *testing.T) {
	testCases := []struct {
		name       string
		input      string
		wantUsable int
		wantReason string
	}{
		{
			name: "empty required value",
			input: header +
				"ann@example.com,,Ann,1 High St,London,SW19,0770,,,\n" +
				"bob@example.com,pw,Bob,2 Low St,Leeds,LS1,0771,,,\n",
			wantUsable: 1,
			wantReason: "empty password",
		},
		{
			name: "short record",
			input: header +
				"ann@example.com,pw,Ann\n",
			wantUsable: 0,
			wantReason: "empty AddressLine1, City, Postcode, MobileNumber",
		},
		{
			name: "missing column",
			input: "Email,password,Name,AddressLine1,City,Postcode\n" +
				"ann@example.com,pw,Ann,1 High St,London,SW19\n",
			wantUsable: 0,
			wantReason: "missing column MobileNumber",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			set, err := Load(strings.NewReader(tc.input), zerolog.Nop())
			require.NoError(t, err)
			assert.Len(t, set.Profiles, tc.wantUsable)
			require.NotEmpty(t, set.Skipped)
			assert.Equal(t, 2, set.Skipped[0].Line)
			assert.Equal(t, tc.wantReason, set.Skipped[0].Reason)
		})
	}
}

func TestLoadHeaderOnlyAndBlankLines(t *testing.T) {
	set, err := Load(strings.NewReader("\ufeff"+header+",,,,,,,,,\n"), zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, set.Profiles)
	assert.Empty(t, set.Skipped)

	set, err = Load(strings.NewReader(""), zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, set.Profiles)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+"a@b.c,pw,A B,1 St,Town,PC1,0700,,,\n"), 0o600))

	set, err := LoadFile(path, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, set.Profiles, 1)
	assert.Equal(t, "a@b.c", set.Profiles[0].Label())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.csv"), zerolog.Nop())
	assert.Error(t, err)
}
