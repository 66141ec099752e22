package rpc

import (
	"encoding/json"
	"fmt"
)

// The ERP's RPC framework has no discovery mechanism; every operation below
// was captured from the web client and must be reproduced literally,
// including its endpoint suffix and the exact positional argument list (the
// framework enforces positions, literal nulls and flag strings included).
//
//	operation                endpoint family  args
//	obterNotaFiscal          invoice          [invoiceId, "", "N", "desabilitarEdicao", 55]
//	obterItemTmp             invoice          [itemId, null]
//	adicionarItemTmpXajax    invoice          [itemId, tempInvoiceId, item, "E"]
//	salvarNotaFiscal         invoice          [invoiceId, invoice, tempInvoiceId, true, [], "S"]
//	calcularImpostos         invoice          [-1, "I", tempInvoiceId, null, null, null]
//	updateItensOperacao      invoice          [tempInvoiceId, opId, opName, "S", opId, null, "0"]
//	updateCampoNotaTmpXajax  invoice          [tempInvoiceId, field, value, null]
//	efetuarLogin             login            [{login, senha, derrubarSessoes, ...}]
//	finalizarLogin           login            [uidLogin, idUsuario, null]
const (
	FuncGetInvoice           = "obterNotaFiscal"
	FuncGetTempItem          = "obterItemTmp"
	FuncSaveInvoice          = "salvarNotaFiscal"
	FuncAddTempItem          = "adicionarItemTmpXajax"
	FuncCalcTaxes            = "calcularImpostos"
	FuncUpdateItemsOperation = "updateItensOperacao"
	FuncUpdateInvoiceField   = "updateCampoNotaTmpXajax"
	FuncLogin                = "efetuarLogin"
	FuncFinalizeLogin        = "finalizarLogin"
)

const (
	invoiceEndpoint = "services/notas.fiscais.server.php"
	loginEndpoint   = "services/reforma.sistema.server.php"
	loginClass      = `Login\Login`
)

type Family int

const (
	FamilyInvoice Family = iota
	FamilyLogin
)

// Request identifies one remote operation plus its serialized argument list.
type Request struct {
	Family Family
	Func   string
	Args   string
	// InvoiceID feeds the location metadata field on invoice operations.
	InvoiceID string
}

func GetInvoice(invoiceID string) Request {
	return Request{
		Family:    FamilyInvoice,
		Func:      FuncGetInvoice,
		Args:      fmt.Sprintf(`["%s","","N","desabilitarEdicao",55]`, invoiceID),
		InvoiceID: invoiceID,
	}
}

func GetTempItem(invoiceID, itemID string) Request {
	return Request{
		Family:    FamilyInvoice,
		Func:      FuncGetTempItem,
		Args:      fmt.Sprintf(`[%s,null]`, itemID),
		InvoiceID: invoiceID,
	}
}

func AddTempItem(invoiceID, itemID, tempInvoiceID string, item map[string]any) (Request, error) {
	encoded, err := json.Marshal(item)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Family:    FamilyInvoice,
		Func:      FuncAddTempItem,
		Args:      fmt.Sprintf(`["%s","%s",%s,"E"]`, itemID, tempInvoiceID, encoded),
		InvoiceID: invoiceID,
	}, nil
}

func SaveInvoice(invoiceID string, invoice map[string]any, tempInvoiceID string) (Request, error) {
	encoded, err := json.Marshal(invoice)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Family:    FamilyInvoice,
		Func:      FuncSaveInvoice,
		Args:      fmt.Sprintf(`["%s",%s,"%s",true,[],"S"]`, invoiceID, encoded, tempInvoiceID),
		InvoiceID: invoiceID,
	}, nil
}

func CalcTaxes(invoiceID, tempInvoiceID string) Request {
	return Request{
		Family:    FamilyInvoice,
		Func:      FuncCalcTaxes,
		Args:      fmt.Sprintf(`[-1,"I","%s", null, null, null]`, tempInvoiceID),
		InvoiceID: invoiceID,
	}
}

func UpdateItemsOperation(invoiceID, tempInvoiceID, operationID, operationName string) Request {
	return Request{
		Family: FamilyInvoice,
		Func:   FuncUpdateItemsOperation,
		Args: fmt.Sprintf(
			`["%s","%s","%s","S","%s",null,"0"]`,
			tempInvoiceID, operationID, operationName, operationID,
		),
		InvoiceID: invoiceID,
	}
}

func UpdateInvoiceField(invoiceID, tempInvoiceID, field, value string) Request {
	return Request{
		Family:    FamilyInvoice,
		Func:      FuncUpdateInvoiceField,
		Args:      fmt.Sprintf(`["%s","%s","%s",null]`, tempInvoiceID, field, value),
		InvoiceID: invoiceID,
	}
}

func Login(login, password, code string) Request {
	return Request{
		Family: FamilyLogin,
		Func:   FuncLogin,
		Args: fmt.Sprintf(
			`[{"login":"%s","senha":"%s","derrubarSessoes":true,"ehParceiro":false,"captchaResponse":"","code":"%s","sessionAccounts":{}}]`,
			login, password, code,
		),
	}
}

// FinalizeLogin's second argument is numeric on the wire; idUsuario arrives
// as whatever json type the previous step produced.
func FinalizeLogin(uidLogin string, idUsuario any) Request {
	return Request{
		Family: FamilyLogin,
		Func:   FuncFinalizeLogin,
		Args:   fmt.Sprintf(`["%s",%s,null]`, uidLogin, formatNumber(idUsuario)),
	}
}

func formatNumber(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	case json.Number:
		return n.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
