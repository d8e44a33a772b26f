package project_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/perffect/internal/project"
)

func TestFromCodeEntryID(t *testing.T) {
	tests := []struct {
		name string
		code string
		lang project.Language
		want string
		file string
	}{
		{"java", "package src.alpha;\n\npublic class Main {}\n", project.Java, "src.alpha.Main", "Main.java"},
		{"kotlin", "package src.beta\n\nfun main(args: Array<out String>) {}\n", project.Kotlin, "src.beta.MainKt", "Main.kt"},
		{"indented package", "  package src.gamma ;\n", project.Java, "src.gamma.Main", "Main.java"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := project.FromCode(tt.code, tt.lang)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.EntryID())
			require.Len(t, p.Files, 1)
			assert.Equal(t, tt.file, p.Files[0].Name)
			assert.Equal(t, tt.code, p.Text())
		})
	}
}

func TestFromCodeWithoutPackage(t *testing.T) {
	_, err := project.FromCode("class Main {}", project.Java)
	require.ErrorIs(t, err, project.ErrNoPackage)
}

func TestParseLanguage(t *testing.T) {
	lang, err := project.ParseLanguage(" Kotlin ")
	require.NoError(t, err)
	assert.Equal(t, project.Kotlin, lang)

	_, err = project.ParseLanguage("scala")
	assert.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	p, err := project.FromCode("package a.b;\n", project.Java)
	require.NoError(t, err)
	c := p.Clone()
	c.Files[0].Text = "changed"
	assert.Equal(t, "package a.b;\n", p.Files[0].Text)
}

func TestSaveAndRemove(t *testing.T) {
	dir := t.TempDir()
	p, err := project.FromCode("package a.b\n", project.Kotlin)
	require.NoError(t, err)

	paths, err := p.Save(dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "Main.kt")}, paths)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "package a.b\n", string(data))

	require.NoError(t, p.Remove(dir))
	_, err = os.Stat(paths[0])
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, p.Remove(dir), "removing twice is not an error")
}

func TestString(t *testing.T) {
	p := &project.Project{Files: []project.File{{Name: "Main.java", Text: "x"}}, Language: project.Java}
	assert.Equal(t, "// FILE: Main.java\n\nx", p.String())
}
