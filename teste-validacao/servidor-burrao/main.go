package main

import (
	"fmt"
	"net/http"
	"time"
)

func main() {
	http.HandleFunc("/gerar", func(w http.ResponseWriter, r *http.Request) {
		// simula o provedor lento com rate limit por credencial
		time.Sleep(1 * time.Second)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Gerado</h1><p>Credencial usada: slot %s</p>", r.Header.Get("X-Key-Slot"))
		fmt.Println("Log: Alguém acessou o endpoint /gerar com slot", r.Header.Get("X-Key-Slot"))
	})
	fmt.Println("Servidor rodando em http://localhost:8082")
	err := http.ListenAndServe(":8082", nil)
	if err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
