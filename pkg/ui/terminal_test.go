package ui

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr := Stdout, Stderr
	Stdout, Stderr = &out, &errOut
	t.Cleanup(func() {
		Stdout, Stderr = prevOut, prevErr
		SetNoColor(false)
	})
	return &out, &errOut
}

func TestPrintHelpers(t *testing.T) {
	out, errOut := capture(t)
	SetNoColor(true)

	PrintSuccess("done")
	PrintInfo("Account", "jack")
	PrintError("Failed to harvest", fmt.Errorf("boom"))
	PrintWarning("Skipped rows")

	assert.Equal(t, "done\nAccount: jack\n", out.String())
	assert.Equal(t, "Failed to harvest: boom\nSkipped rows\n", errOut.String())
}

func TestColorsCanBeDisabled(t *testing.T) {
	capture(t)
	assert.Equal(t, "\033[32mok\033[0m", Green("ok"))
	SetNoColor(true)
	assert.Equal(t, "ok", Green("ok"))
}

func TestTable(t *testing.T) {
	out, _ := capture(t)
	tw := NewTable()
	fmt.Fprintln(tw, "ID\tHANDLE")
	fmt.Fprintln(tw, "1\tjack")
	assert.NoError(t, tw.Flush())
	assert.Equal(t, "ID  HANDLE\n1   jack\n", out.String())
}
