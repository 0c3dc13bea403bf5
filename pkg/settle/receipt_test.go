package settle

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	bookID = common.HexToHash("0x01")
	seller = common.HexToAddress("0xaaaa")
	broker = common.HexToAddress("0xbbbb")
)

func TestSplitWithCommission(t *testing.T) {
	tests := []struct {
		name       string
		total      uint64
		commission *Commission
		wantErr    bool
		want       []Payment
	}{
		{
			name:  "no commission",
			total: 100,
			want:  []Payment{{Amount: 100, Beneficiary: seller}},
		},
		{
			name:       "with commission",
			total:      80,
			commission: &Commission{Beneficiary: broker, Cut: 10},
			want: []Payment{
				{Amount: 70, Beneficiary: seller},
				{Amount: 10, Beneficiary: broker},
			},
		},
		{
			name:       "cut equals price",
			total:      80,
			commission: &Commission{Beneficiary: broker, Cut: 80},
			wantErr:    true,
		},
		{
			name:       "cut above price",
			total:      80,
			commission: &Commission{Beneficiary: broker, Cut: 90},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Open(bookID)
			err := r.SplitWithCommission(tt.total, seller, tt.commission)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitWithCommission() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got := r.Payments()
			if len(got) != len(tt.want) {
				t.Fatalf("payments: got %d entries, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("payment[%d]: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
			if r.Total() != tt.total {
				t.Errorf("total: got %d, want %d (value conservation)", r.Total(), tt.total)
			}
		})
	}
}

func TestCloseExactlyOnce(t *testing.T) {
	r := Open(bookID)
	if err := r.AddPayment(50, seller); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if !r.Closed() {
		t.Fatal("receipt should report closed")
	}
	if err := r.Close(); !errors.Is(err, ErrReceiptClosed) {
		t.Fatalf("second close: got %v, want ErrReceiptClosed", err)
	}
	if err := r.AddPayment(1, seller); !errors.Is(err, ErrReceiptClosed) {
		t.Fatalf("payment after close: got %v, want ErrReceiptClosed", err)
	}
}

func TestZeroPaymentRejected(t *testing.T) {
	r := Open(bookID)
	if err := r.AddPayment(0, seller); !errors.Is(err, ErrZeroPayment) {
		t.Fatalf("zero payment: got %v, want ErrZeroPayment", err)
	}
	if r.Count() != 0 {
		t.Fatal("failed payment must not append an entry")
	}
}

func TestOrigin(t *testing.T) {
	r := Open(bookID)
	if r.Origin() != bookID {
		t.Fatalf("origin: got %s, want %s", r.Origin(), bookID)
	}
}
