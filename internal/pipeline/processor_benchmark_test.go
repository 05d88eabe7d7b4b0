package pipeline

import (
	"context"
	"net/url"
	"testing"

	"github.com/dunamismax/pixelserve/internal/params"
)

func BenchmarkProcessorResizeJPEG(b *testing.B) {
	benchmarkProcess(b, "image/jpeg", FilterLanczos)
}

func BenchmarkProcessorResizePNG(b *testing.B) {
	benchmarkProcess(b, "image/png", FilterLanczos)
}

func BenchmarkProcessorResizeLinear(b *testing.B) {
	benchmarkProcess(b, "image/jpeg", FilterLinear)
}

func benchmarkProcess(b *testing.B, accept string, filter Filter) {
	source := buildTestPNG(b, 1920, 1080)
	processor, err := newProcessor(
		&staticFetcher{data: source},
		stdlibTransformer{opts: Options{Filter: filter}.withDefaults()},
		testFormats,
		params.Resolver{Policy: params.PolicyRequired},
	)
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	req := Request{
		Key:    "bench.png",
		Accept: accept,
		Query:  url.Values{"width": {"640"}, "height": {"360"}},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}
