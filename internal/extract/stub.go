package extract

import "context"

// Stub is a test/harness Extractor that always returns a fixed Result,
// standing in for the real extraction backend the way spec §8's scenarios
// describe ("Extraction stub returns {done, pdftotext, 500}").
type Stub struct {
	Result Result
}

func (s Stub) Extract(ctx context.Context, inputPath, outputPath string) Result {
	return s.Result
}
