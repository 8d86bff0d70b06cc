package gateway_test

import (
	"context"
	"errors"
	"testing"

	"payflow/internal/services/gateway"
	"payflow/internal/services/gateway/mocks"
	"payflow/internal/services/widget"
	"payflow/internal/status"
	"payflow/models"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	page    *widget.Page
	ready   bool
	loadErr error
	loads   int
	install func(*widget.Page)
}

func (f *fakeLoader) Ready() bool        { return f.ready }
func (f *fakeLoader) Page() *widget.Page { return f.page }

func (f *fakeLoader) EnsureLoaded(context.Context) error {
	f.loads++
	if f.loadErr != nil {
		return f.loadErr
	}
	if f.install != nil {
		f.install(f.page)
	}
	f.ready = true
	return nil
}

var defaults = gateway.Defaults{
	PublicKey: "pk_test",
	Sandbox:   true,
	Position:  "center",
	Theme:     "#2e7d32",
	Callback:  "https://dash.example/pay/done",
}

func TestAdapter_Open_MergesOverDefaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sdk := mocks.NewMockSDK(ctrl)
	page := widget.NewPage()
	gateway.Install(page, sdk)

	want := gateway.WidgetConfig{
		Key:         "pk_test",
		Sandbox:     true,
		Amount:      decimal.NewFromInt(5000),
		Phone:       "97000000",
		Description: "Cotisation R1",
		Callback:    "https://dash.example/pay/done",
		Position:    "right",
		Theme:       "#2e7d32",
	}
	sdk.EXPECT().OpenWidget(gomock.Any(), want).Return(nil)

	a := gateway.NewAdapter(&fakeLoader{page: page, ready: true}, defaults)
	err := a.Open(context.Background(), gateway.Config{
		Amount:      decimal.NewFromInt(5000),
		Phone:       "97000000",
		Description: "Cotisation R1",
		Position:    "right",
	})
	require.NoError(t, err)
}

func TestAdapter_Open_LoadsFirstWhenNotReady(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sdk := mocks.NewMockSDK(ctrl)
	sdk.EXPECT().OpenWidget(gomock.Any(), gomock.Any()).Return(nil)

	loader := &fakeLoader{
		page:    widget.NewPage(),
		install: func(p *widget.Page) { gateway.Install(p, sdk) },
	}
	a := gateway.NewAdapter(loader, defaults)

	require.NoError(t, a.Open(context.Background(), gateway.Config{Amount: decimal.NewFromInt(1)}))
	assert.Equal(t, 1, loader.loads)
	assert.True(t, a.Ready())
}

func TestAdapter_Open_LoadError(t *testing.T) {
	loader := &fakeLoader{page: widget.NewPage(), loadErr: status.ErrLoad}
	a := gateway.NewAdapter(loader, defaults)

	err := a.Open(context.Background(), gateway.Config{})
	assert.ErrorIs(t, err, status.ErrLoad)
}

func TestAdapter_Open_EntryPointMissing(t *testing.T) {
	page := widget.NewPage()
	a := gateway.NewAdapter(&fakeLoader{page: page, ready: true}, defaults)

	err := a.Open(context.Background(), gateway.Config{})
	assert.ErrorIs(t, err, status.ErrGatewayUnavailable)

	// wrong shape counts as missing
	page.Set(widget.OpenWidget, "not a function")
	err = a.Open(context.Background(), gateway.Config{})
	assert.ErrorIs(t, err, status.ErrGatewayUnavailable)
}

func TestAdapter_Open_SDKErrorIsGatewayUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sdk := mocks.NewMockSDK(ctrl)
	page := widget.NewPage()
	gateway.Install(page, sdk)
	sdk.EXPECT().OpenWidget(gomock.Any(), gomock.Any()).Return(errors.New("popup blocked"))

	a := gateway.NewAdapter(&fakeLoader{page: page, ready: true}, defaults)
	err := a.Open(context.Background(), gateway.Config{})
	assert.ErrorIs(t, err, status.ErrGatewayUnavailable)
}

func TestAdapter_RegisterOutcomeListeners_ReplacesPair(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var current gateway.SuccessListener
	var currentFailed gateway.FailureListener

	sdk := mocks.NewMockSDK(ctrl)
	sdk.EXPECT().AddSuccessListener(gomock.Any()).Times(2).Do(func(l gateway.SuccessListener) { current = l })
	sdk.EXPECT().AddFailedListener(gomock.Any()).Times(2).Do(func(l gateway.FailureListener) { currentFailed = l })

	page := widget.NewPage()
	gateway.Install(page, sdk)
	a := gateway.NewAdapter(&fakeLoader{page: page, ready: true}, defaults)

	var got []string
	require.NoError(t, a.RegisterOutcomeListeners(context.Background(),
		func(s models.Success) { got = append(got, "first:"+s.TransactionID) },
		func(models.Failure) {}))
	require.NoError(t, a.RegisterOutcomeListeners(context.Background(),
		func(s models.Success) { got = append(got, "second:"+s.TransactionID) },
		func(f models.Failure) { got = append(got, "second-failed:"+f.Code) }))

	current(models.Success{TransactionID: "G1"})
	currentFailed(models.Failure{Code: "CANCELLED"})
	assert.Equal(t, []string{"second:G1", "second-failed:CANCELLED"}, got)
}

func TestAdapter_RegisterOutcomeListeners_Unavailable(t *testing.T) {
	page := widget.NewPage()
	page.Set(widget.AddSuccessListener, gateway.AddSuccessListenerFunc(func(gateway.SuccessListener) {}))

	a := gateway.NewAdapter(&fakeLoader{page: page, ready: true}, defaults)
	err := a.RegisterOutcomeListeners(context.Background(), func(models.Success) {}, func(models.Failure) {})
	assert.ErrorIs(t, err, status.ErrGatewayUnavailable)
}
