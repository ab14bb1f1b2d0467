// golfctl exercises the statement pipeline offline: tokenize, parse,
// build, translate, and render statements against the builtin schemas
// or a schema file, without a running gateway.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/prompted365/golf/pkg/builder"
	"github.com/prompted365/golf/pkg/grammar"
	"github.com/prompted365/golf/pkg/models"
	"github.com/prompted365/golf/pkg/policygen"
	"github.com/prompted365/golf/pkg/schema"
)

// Testable variables for main()
var osExit = os.Exit

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	switch args[0] {
	case "tokenize":
		return tokenize(args[1:], out)
	case "parse":
		return parse(args[1:], out)
	case "build":
		return build(args[1:], out)
	case "translate":
		return translate(args[1:], out)
	case "rego":
		return rego(args[1:], out)
	case "schemas":
		return schemas(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "golfctl commands:")
	fmt.Fprintln(out, "  tokenize  --statement '...' --integration gmail [--schema file.json]")
	fmt.Fprintln(out, "  parse     --statement '...' --integration gmail [--schema file.json]")
	fmt.Fprintln(out, "  build     --statement '...' --integration gmail [--schema file.json]")
	fmt.Fprintln(out, "  translate --statement '...' --integration gmail [--schema file.json]")
	fmt.Fprintln(out, "  rego      --statement '...' --integration gmail [--schema file.json]")
	fmt.Fprintln(out, "  schemas")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

type statementFlags struct {
	statement   string
	integration string
	schemaPath  string
}

func bindStatementFlags(fs *flag.FlagSet) *statementFlags {
	f := &statementFlags{}
	fs.StringVar(&f.statement, "statement", "", "permission statement")
	fs.StringVar(&f.integration, "integration", "gmail", "integration name")
	fs.StringVar(&f.schemaPath, "schema", "", "extra schema JSON file")
	return f
}

func (f *statementFlags) registry() (*schema.Registry, error) {
	r := schema.NewRegistry()
	if err := schema.RegisterBuiltins(r); err != nil {
		return nil, err
	}
	if f.schemaPath != "" {
		raw, err := os.ReadFile(f.schemaPath)
		if err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		var s models.IntegrationSchema
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode schema: %w", err)
		}
		if err := r.Register(&s); err != nil {
			return nil, fmt.Errorf("register schema: %w", err)
		}
	}
	return r, nil
}

func (f *statementFlags) tokens() ([]grammar.Token, error) {
	if f.statement == "" {
		return nil, errors.New("statement required")
	}
	r, err := f.registry()
	if err != nil {
		return nil, err
	}
	s, err := r.ResolveSchema(context.Background(), f.integration)
	if err != nil {
		return nil, err
	}
	vocab := grammar.Vocabulary{Helpers: grammar.DefaultHelpers()}
	for helper := range s.HelperMappings {
		vocab.Helpers = append(vocab.Helpers, helper)
	}
	for rt := range s.Resources {
		vocab.ResourceTypes = append(vocab.ResourceTypes, rt)
	}
	return grammar.NewTokenizer(vocab).Tokenize(f.statement)
}

func (f *statementFlags) built() (*models.PermissionStatement, error) {
	if f.statement == "" {
		return nil, errors.New("statement required")
	}
	r, err := f.registry()
	if err != nil {
		return nil, err
	}
	return builder.New(r).ParseStatement(context.Background(), f.statement, f.integration)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func tokenize(args []string, out io.Writer) error {
	fs := newFlagSet("tokenize")
	f := bindStatementFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	tokens, err := f.tokens()
	if err != nil {
		return err
	}
	for _, tok := range tokens {
		fmt.Fprintf(out, "%-14s %-18s %q\n", tok.Kind, tok.Canonical, tok.Raw)
	}
	return nil
}

func parse(args []string, out io.Writer) error {
	fs := newFlagSet("parse")
	f := bindStatementFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	tokens, err := f.tokens()
	if err != nil {
		return err
	}
	st, err := grammar.Parse(tokens)
	if err != nil {
		return err
	}
	return printJSON(out, st)
}

func build(args []string, out io.Writer) error {
	fs := newFlagSet("build")
	f := bindStatementFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := f.built()
	if err != nil {
		return err
	}
	return printJSON(out, st)
}

func translate(args []string, out io.Writer) error {
	fs := newFlagSet("translate")
	f := bindStatementFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := f.built()
	if err != nil {
		return err
	}
	return printJSON(out, policygen.Translate(st))
}

func rego(args []string, out io.Writer) error {
	fs := newFlagSet("rego")
	f := bindStatementFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := f.built()
	if err != nil {
		return err
	}
	policy, err := policygen.NewRegoGenerator().Generate(st, "")
	if err != nil {
		return err
	}
	fmt.Fprint(out, policy.Content)
	return nil
}

func schemas(args []string, out io.Writer) error {
	fs := newFlagSet("schemas")
	if err := fs.Parse(args); err != nil {
		return err
	}
	r := schema.NewRegistry()
	if err := schema.RegisterBuiltins(r); err != nil {
		return err
	}
	for _, name := range r.Integrations() {
		fmt.Fprintf(out, "%s:\n", name)
		for _, rt := range r.ResourceTypes(name) {
			fmt.Fprintf(out, "  %s\n", rt)
		}
	}
	return nil
}
