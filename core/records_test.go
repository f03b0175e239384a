package core

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/tolelom/ecobuild/crypto"
)

func testOwner(t *testing.T) crypto.Address {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return pub.Address()
}

func TestAddCredits(t *testing.T) {
	var p PlayerLedger
	if err := p.Initialize(testOwner(t), 254); err != nil {
		t.Fatal(err)
	}
	for _, amount := range []uint64{1, 7, 1_000_000} {
		before := p.TotalCredits
		if err := p.AddCredits(amount); err != nil {
			t.Fatalf("AddCredits(%d): %v", amount, err)
		}
		if p.TotalCredits != before+amount {
			t.Errorf("total: got %d want %d", p.TotalCredits, before+amount)
		}
	}
	before := p.TotalCredits
	if err := p.AddCredits(0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("AddCredits(0): got %v want InvalidAmount", err)
	}
	if p.TotalCredits != before {
		t.Errorf("total changed on failure: %d", p.TotalCredits)
	}
}

func TestAddCreditsOverflowScenario(t *testing.T) {
	var p PlayerLedger
	_ = p.Initialize(testOwner(t), 255)
	if err := p.AddCredits(100); err != nil {
		t.Fatal(err)
	}
	if err := p.AddCredits(math.MaxUint64); !errors.Is(err, ErrOverflow) {
		t.Fatalf("want Overflow, got %v", err)
	}
	if p.TotalCredits != 100 {
		t.Errorf("total_credits: got %d want 100", p.TotalCredits)
	}
}

func TestCountersOverflowLeaveStateUnchanged(t *testing.T) {
	owner := testOwner(t)

	t.Run("player record_mint minted", func(t *testing.T) {
		p := PlayerLedger{Owner: owner, TokensMinted: math.MaxUint64, CollectionEvents: 3}
		want := p
		if err := p.RecordMint(1); !errors.Is(err, ErrOverflow) {
			t.Fatalf("want Overflow, got %v", err)
		}
		if p != want {
			t.Errorf("state changed: %+v", p)
		}
	})
	t.Run("player record_mint events", func(t *testing.T) {
		p := PlayerLedger{Owner: owner, TokensMinted: 5, CollectionEvents: math.MaxUint64}
		want := p
		if err := p.RecordMint(1); !errors.Is(err, ErrOverflow) {
			t.Fatalf("want Overflow, got %v", err)
		}
		if p != want {
			t.Errorf("tokens_minted moved before events check: %+v", p)
		}
	})
	t.Run("player record_conversion", func(t *testing.T) {
		p := PlayerLedger{Owner: owner, BricksConverted: math.MaxUint64}
		if err := p.RecordConversion(); !errors.Is(err, ErrOverflow) {
			t.Fatalf("want Overflow, got %v", err)
		}
		if p.BricksConverted != math.MaxUint64 {
			t.Error("bricks_converted changed")
		}
	})
	t.Run("pool contribution", func(t *testing.T) {
		pool := ProjectPool{Owner: owner, Goal: 1, Received: math.MaxUint64}
		if err := pool.RecordContribution(1); !errors.Is(err, ErrOverflow) {
			t.Fatalf("want Overflow, got %v", err)
		}
		if pool.Received != math.MaxUint64 {
			t.Error("received changed")
		}
	})
	t.Run("config counters", func(t *testing.T) {
		cfg := GlobalLedgerConfig{Authority: owner, TotalTokensMinted: math.MaxUint64, TotalBricksCreated: math.MaxUint64}
		want := cfg
		if err := cfg.RecordMint(1); !errors.Is(err, ErrOverflow) {
			t.Fatalf("RecordMint: want Overflow, got %v", err)
		}
		if err := cfg.RecordBrick(); !errors.Is(err, ErrOverflow) {
			t.Fatalf("RecordBrick: want Overflow, got %v", err)
		}
		if cfg != want {
			t.Errorf("state changed: %+v", cfg)
		}
	})
}

func TestRecordMintAndConversion(t *testing.T) {
	var p PlayerLedger
	_ = p.Initialize(testOwner(t), 1)
	if err := p.RecordMint(25); err != nil {
		t.Fatal(err)
	}
	if err := p.RecordConversion(); err != nil {
		t.Fatal(err)
	}
	if p.TokensMinted != 25 || p.CollectionEvents != 1 || p.BricksConverted != 1 {
		t.Errorf("counters: %+v", p)
	}
	if p.TotalCredits != 0 {
		t.Errorf("credits moved: %d", p.TotalCredits)
	}
}

func TestProjectPoolCreate(t *testing.T) {
	owner := testOwner(t)
	var pool ProjectPool

	if err := pool.Initialize(owner, 1, 0, 0, "park"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("goal=0: got %v want InvalidAmount", err)
	}
	if err := pool.Initialize(owner, 1, 0, 10, strings.Repeat("x", 33)); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("33-byte name: got %v want NameTooLong", err)
	}

	name := strings.Repeat("n", 32)
	if err := pool.Initialize(owner, 1, 42, 10, name); err != nil {
		t.Fatalf("32-byte name: %v", err)
	}
	if pool.Name() != name {
		t.Errorf("name: got %q want %q", pool.Name(), name)
	}
	if pool.Received != 0 {
		t.Errorf("received: got %d", pool.Received)
	}

	data, err := pool.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var decoded ProjectPool
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded.NameText.Bytes(), []byte(name)) {
		t.Errorf("name did not round-trip: %q", decoded.Name())
	}
}

func TestProjectPoolOverFunding(t *testing.T) {
	var pool ProjectPool
	if err := pool.Initialize(testOwner(t), 1, 7, 10, "garden"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := pool.RecordContribution(6); err != nil {
			t.Fatalf("contribution %d: %v", i, err)
		}
	}
	if pool.Received != 12 {
		t.Errorf("received: got %d want 12", pool.Received)
	}
	if err := pool.RecordContribution(0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero contribution: got %v", err)
	}
}

func TestReceiptValidationOrder(t *testing.T) {
	valid := ReceiptParams{
		ZoneID:    "zone-7",
		Material:  int64(MaterialGlass),
		Quantity:  3,
		Timestamp: 1_700_000_000,
	}
	tests := []struct {
		name   string
		mutate func(p *ReceiptParams)
		want   error
	}{
		{"zero quantity wins over everything", func(p *ReceiptParams) {
			p.Quantity, p.Timestamp, p.ZoneID, p.Material = 0, 0, strings.Repeat("z", 40), 9
		}, ErrInvalidAmount},
		{"timestamp before zone", func(p *ReceiptParams) {
			p.Timestamp, p.ZoneID, p.Material = -1, strings.Repeat("z", 40), 9
		}, ErrInvalidTimestamp},
		{"zone before material", func(p *ReceiptParams) {
			p.ZoneID, p.Material = strings.Repeat("z", 33), 9
		}, ErrZoneIDTooLong},
		{"material", func(p *ReceiptParams) { p.Material = 4 }, ErrInvalidMaterialType},
		{"valid", func(p *ReceiptParams) {}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			var r CollectionReceipt
			err := r.Initialize(testOwner(t), 200, p)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v want %v", err, tt.want)
			}
		})
	}
}

func TestRecordSizes(t *testing.T) {
	owner := testOwner(t)
	records := []struct {
		rec  Record
		size int
	}{
		{&PlayerLedger{Owner: owner}, 73},
		{&ProjectPool{Owner: owner, Goal: 1}, 98},
		{&CollectionReceipt{Player: owner, Quantity: 1, Timestamp: 1}, 155},
		{&GlobalLedgerConfig{Authority: owner}, 90},
		{&TokenMint{Authority: owner}, 49},
		{&TokenAccount{Owner: owner}, 80},
	}
	for _, tc := range records {
		data, err := tc.rec.MarshalBinary()
		if err != nil {
			t.Fatalf("%s: %v", tc.rec.RecordType(), err)
		}
		if len(data) != tc.size {
			t.Errorf("%s: encoded %d bytes, want %d", tc.rec.RecordType(), len(data), tc.size)
		}
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	var r CollectionReceipt
	err := r.Initialize(testOwner(t), 251, ReceiptParams{
		AttestationID: Hash32{1, 2, 3},
		PhotoHash:     Hash32{9},
		ZoneID:        "north-beach",
		Material:      int64(MaterialMetal),
		Quantity:      12,
		Timestamp:     1_700_000_123,
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := r.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var got CollectionReceipt
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if got != r {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, r)
	}
	if got.ZoneID() != "north-beach" {
		t.Errorf("zone: %q", got.ZoneID())
	}
}

func TestDecodeRejectsWrongType(t *testing.T) {
	p := PlayerLedger{Owner: testOwner(t)}
	data, _ := p.MarshalBinary()

	var pool ProjectPool
	if err := pool.UnmarshalBinary(data); !errors.Is(err, ErrRecordMismatch) {
		t.Errorf("size mismatch: got %v", err)
	}

	// Same size, different discriminator.
	data[0] ^= 0xff
	var again PlayerLedger
	if err := again.UnmarshalBinary(data); !errors.Is(err, ErrRecordMismatch) {
		t.Errorf("discriminator mismatch: got %v", err)
	}
}

func TestDecodeRejectsBadText(t *testing.T) {
	var pool ProjectPool
	_ = pool.Initialize(testOwner(t), 1, 1, 1, "ok")
	data, _ := pool.MarshalBinary()
	data[ProjectPoolSize-MaxTextLen-1] = MaxTextLen + 1
	var got ProjectPool
	if err := got.UnmarshalBinary(data); !errors.Is(err, ErrRecordMismatch) {
		t.Errorf("got %v want RecordMismatch", err)
	}
}

func TestErrorCodes(t *testing.T) {
	if CodeInvalidAmount.Number() != 6000 {
		t.Errorf("InvalidAmount number: %d", CodeInvalidAmount.Number())
	}
	if CodeRecordMismatch.Number() != 6010 {
		t.Errorf("RecordMismatch number: %d", CodeRecordMismatch.Number())
	}
	if Code("nope").Number() != 0 {
		t.Error("unknown code should map to 0")
	}
	wrapped := &Error{Code: CodeOverflow, Message: "pool received", Cause: errors.New("boom")}
	if !errors.Is(wrapped, ErrOverflow) {
		t.Error("wrapped overflow should match sentinel")
	}
	if errors.Is(wrapped, ErrInvalidAmount) {
		t.Error("codes must not cross-match")
	}
	if CodeOf(fmtWrap(wrapped)) != CodeOverflow {
		t.Error("CodeOf should see through fmt wrapping")
	}
}

func fmtWrap(err error) error { return errors.Join(errors.New("outer"), err) }

func TestMaterialKind(t *testing.T) {
	for i, name := range []string{"plastic", "glass", "metal", "paper"} {
		k, err := MaterialKindFromName(strings.ToUpper(name))
		if err != nil {
			t.Fatal(err)
		}
		if int(k) != i || k.String() != name {
			t.Errorf("%s: got %d/%s", name, k, k)
		}
	}
	for _, v := range []int64{4, 300, -1} {
		if _, err := ParseMaterialKind(v); !errors.Is(err, ErrInvalidMaterialType) {
			t.Errorf("%d: got %v", v, err)
		}
	}
}

func TestBoundedTextJSON(t *testing.T) {
	text, ok := NewBoundedText("abc")
	if !ok {
		t.Fatal("abc should fit")
	}
	data, err := text.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"abc"` {
		t.Errorf("json: %s", data)
	}
	if _, ok := NewBoundedText(strings.Repeat("a", 33)); ok {
		t.Error("33 bytes should not fit")
	}
}
