// Package application contém os casos de uso (regras de aplicação) do
// escalonador de key slots.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: SlotService.Acquire aplica timeout opcional e devolve um release
// idempotente, para garantir devolução do slot em qualquer caminho de saída.
package application
