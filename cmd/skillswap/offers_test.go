package main

import (
	"os"
	"path/filepath"
	"testing"

	skillswap "github.com/skillswap-app/skillswap-go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOfferFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
title: Go mentoring
description: Weekly pairing sessions
skillsToTeach: [Go, Rust]
skillsToLearn:
  - Figma
learningFormat: online
location: Remote
`), 0o600))

	in, err := readOfferFile(path)
	require.NoError(t, err)
	assert.Equal(t, skillswap.OfferInput{
		Title:          "Go mentoring",
		Description:    "Weekly pairing sessions",
		SkillsToTeach:  skillswap.SkillNames{"Go", "Rust"},
		SkillsToLearn:  skillswap.SkillNames{"Figma"},
		LearningFormat: skillswap.FormatOnline,
		Location:       "Remote",
	}, in)

	t.Run("missing file", func(t *testing.T) {
		_, err := readOfferFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot read offer file")
	})

	t.Run("malformed file", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("title: [unclosed"), 0o600))
		_, err := readOfferFile(bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot parse offer file")
	})
}

func TestApplyOfferFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addOfferFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--title", "New title", "--teach", "Go, Rust,", "--format", " BOTH "}))

	in := skillswap.OfferInput{
		Title:         "Old title",
		Description:   "kept",
		SkillsToLearn: skillswap.SkillNames{"Figma"},
		Location:      "Berlin",
	}
	applyOfferFlags(cmd, &in)

	assert.Equal(t, "New title", in.Title)
	assert.Equal(t, "kept", in.Description, "flags that were not passed keep their value")
	assert.Equal(t, skillswap.SkillNames{"Go", "Rust"}, in.SkillsToTeach)
	assert.Equal(t, skillswap.SkillNames{"Figma"}, in.SkillsToLearn)
	assert.Equal(t, skillswap.FormatBoth, in.LearningFormat)
	assert.Equal(t, "Berlin", in.Location)
}
