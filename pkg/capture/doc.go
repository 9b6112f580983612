// Package capture persists a live feed of records to rotating files.
//
// The Writer appends each record followed by a newline to the current
// file. Once a file has been open longer than the save interval, the next
// record closes it and a new file is opened with a fresh name:
//
//	<dir>/<prefix>-<UTC open time>[.gz]
//
// Files are opened in append mode, so a name collision within one second
// continues the existing file. Compressed files may hold several gzip
// members; ReadRecords handles both forms.
//
// Usage:
//
//	w, err := capture.NewWriter(&cfg.Capture, capture.Options{Prefix: "elections"})
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	for record := range feed {
//	    if err := w.OnRecord(record); err != nil {
//	        return err
//	    }
//	}
package capture
