package ingestion

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"golang.org/x/text/encoding/unicode"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func utf16LE(t testing.TB, s string) []byte {
	t.Helper()
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(s)
	if err != nil {
		t.Fatal(err)
	}
	return []byte(out)
}

const poloniexCSV = `Date,Market,Category,Type,Price,Amount,Total,Fee,Order Number,Base Total Less Fee,Quote Total Less Fee
2017-12-01 10:00:05,LTC/BTC,Exchange,Buy,0.011,1,0.011,0.25%,100,-0.011,0.9975
2017-12-01 10:00:00,LTC/BTC,Exchange,Buy,0.01,2,0.02,0.25%,100,-0.02,1.995
2017-12-02 09:00:00,STR/BTC,Exchange,Sell,0.00001,1000,0.01,0.15%,200,0.009985,-1000
`

const bittrexCSV = "OrderUuid,Exchange,Type,Quantity,Limit,ComissionPaid,Price,PricePerUnit,Opened,Closed\r\n" +
	"abc-1,BTC-ETH,LIMIT_BUY,2.00000000,0.05,0.00025,0.1,0.05,12/1/2017 10:00:00 AM,12/1/2017 10:01:00 AM\r\n" +
	"abc-2,BTC-BCC,LIMIT_SELL,1.5,0.1,0.000375,0.15,0.1,12/2/2017 3:30:00 PM,12/2/2017 3:31:00 PM\r\n"
