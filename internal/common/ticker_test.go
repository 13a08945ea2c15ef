package common

import (
	"testing"
)

func TestParseTicker(t *testing.T) {
	// Ensure default exchange is ASX for these tests
	originalDefault := DefaultExchange
	DefaultExchange = "ASX"
	defer func() { DefaultExchange = originalDefault }()

	tests := []struct {
		input        string
		wantExchange string
		wantCode     string
		wantString   string
	}{
		// Exchange-qualified format with colon separator
		{"ASX:GNP", "ASX", "GNP", "ASX:GNP"},
		{"ASX:BCN", "ASX", "BCN", "ASX:BCN"},
		{"NYSE:AAPL", "NYSE", "AAPL", "NYSE:AAPL"},
		{"NASDAQ:MSFT", "NASDAQ", "MSFT", "NASDAQ:MSFT"},

		// Exchange-qualified format with dot separator (EXCHANGE.CODE)
		{"ASX.GNP", "ASX", "GNP", "ASX:GNP"},
		{"NYSE.AAPL", "NYSE", "AAPL", "NYSE:AAPL"},

		// Dot prefix that is not a known exchange stays part of the code
		{"BRK.B", "ASX", "BRK.B", "ASX:BRK.B"},

		// Bare code defaults to ASX
		{"GNP", "ASX", "GNP", "ASX:GNP"},
		{"BCN", "ASX", "BCN", "ASX:BCN"},

		// Case normalization
		{"asx:gnp", "ASX", "GNP", "ASX:GNP"},
		{"asx.gnp", "ASX", "GNP", "ASX:GNP"},
		{"gnp", "ASX", "GNP", "ASX:GNP"},

		// Whitespace handling
		{"  ASX:GNP  ", "ASX", "GNP", "ASX:GNP"},
		{"  GNP  ", "ASX", "GNP", "ASX:GNP"},

		// Empty input
		{"", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseTicker(tt.input)

			if result.Exchange != tt.wantExchange {
				t.Errorf("Exchange = %q, want %q", result.Exchange, tt.wantExchange)
			}
			if result.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", result.Code, tt.wantCode)
			}
			if result.String() != tt.wantString {
				t.Errorf("String() = %q, want %q", result.String(), tt.wantString)
			}
		})
	}
}

func TestSetDefaultExchange(t *testing.T) {
	originalDefault := DefaultExchange
	defer func() { DefaultExchange = originalDefault }()

	SetDefaultExchange("nyse")
	if DefaultExchange != "NYSE" {
		t.Errorf("DefaultExchange = %q, want %q", DefaultExchange, "NYSE")
	}

	parsed := ParseTicker("AAPL")
	if parsed.Exchange != "NYSE" {
		t.Errorf("Exchange = %q, want %q", parsed.Exchange, "NYSE")
	}

	// Empty input leaves the default untouched
	SetDefaultExchange("")
	if DefaultExchange != "NYSE" {
		t.Errorf("DefaultExchange = %q after empty set, want %q", DefaultExchange, "NYSE")
	}
}

func TestParseTickers(t *testing.T) {
	input := []string{"ASX:GNP", "ASX:BCN", "MYG", "  ", ""}
	result := ParseTickers(input)

	if len(result) != 3 {
		t.Errorf("ParseTickers returned %d tickers, want 3", len(result))
	}

	expected := []string{"GNP", "BCN", "MYG"}
	for i, ticker := range result {
		if ticker.Code != expected[i] {
			t.Errorf("result[%d].Code = %q, want %q", i, ticker.Code, expected[i])
		}
	}
}

func TestParseTickersFromInterface(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  []string // expected codes
	}{
		{
			name:  "single string",
			input: "ASX:GNP",
			want:  []string{"GNP"},
		},
		{
			name:  "string slice",
			input: []string{"GNP", "NYSE:AAPL"},
			want:  []string{"GNP", "AAPL"},
		},
		{
			name:  "interface slice from TOML",
			input: []interface{}{"GNP", "BCN", 42, ""},
			want:  []string{"GNP", "BCN"},
		},
		{
			name:  "unsupported type",
			input: 42,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseTickersFromInterface(tt.input)

			if len(result) != len(tt.want) {
				t.Fatalf("got %d tickers, want %d", len(result), len(tt.want))
			}
			for i, ticker := range result {
				if ticker.Code != tt.want[i] {
					t.Errorf("result[%d].Code = %q, want %q", i, ticker.Code, tt.want[i])
				}
			}
		})
	}
}

func TestTickerStrings(t *testing.T) {
	originalDefault := DefaultExchange
	DefaultExchange = "ASX"
	defer func() { DefaultExchange = originalDefault }()

	tickers := ParseTickers([]string{"GNP", "NYSE:AAPL"})
	result := TickerStrings(tickers)

	want := []string{"ASX:GNP", "NYSE:AAPL"}
	if len(result) != len(want) {
		t.Fatalf("got %d strings, want %d", len(result), len(want))
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("result[%d] = %q, want %q", i, result[i], want[i])
		}
	}
}
