// internal/browser/scripts.go
package browser

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Error markers thrown by the page scripts and mapped back to dom errors.
const (
	staleMarker    = "am:stale"
	selectorMarker = "am:selector"
)

// registryJS keeps every element handed out to Go in an array; the index is
// the element's dom.Ref. It is rebuilt on each new document.
const registryJS = `(() => {
  if (window.__am) return window.__am;
  const refs = [];
  const am = {
    ref(el) {
      let i = refs.indexOf(el);
      if (i < 0) { refs.push(el); i = refs.length - 1; }
      return i;
    },
    el(i) {
      const el = refs[i];
      if (!el || !el.isConnected) throw new Error('am:stale ' + i);
      return el;
    },
    snap(el) {
      const r = el.getBoundingClientRect();
      const attrs = {};
      for (const a of el.attributes) attrs[a.name] = a.value;
      const tag = el.tagName.toLowerCase();
      const field = tag === 'input' || tag === 'textarea';
      const c = el.closest('tr, div, td');
      const dn = el.closest('[data-name]');
      return {
        ref: am.ref(el),
        tag,
        attrs,
        className: typeof el.className === 'string' ? el.className : (el.getAttribute('class') || ''),
        contentEditable: !!el.isContentEditable,
        containerText: c ? (c.textContent || '').slice(0, 2000) : '',
        dataName: dn ? dn.getAttribute('data-name') : '',
        value: (field ? (el.value || '') : (el.textContent || '')).trim().slice(0, 200),
        rect: { x: r.x, y: r.y, width: r.width, height: r.height },
      };
    },
    q(sel) {
      let found;
      try { found = document.querySelectorAll(sel); }
      catch (e) { throw new Error('am:selector ' + e.message); }
      return Array.from(found, (el) => am.snap(el));
    },
  };
  window.__am = am;
  return am;
})()`

// script wraps body so it runs with the registry bound to "am". Arguments are
// JSON encoded and bound to a0, a1, ...
func script(body string, args ...any) (string, error) {
	var b strings.Builder
	b.WriteString("(() => {\nconst am = ")
	b.WriteString(registryJS)
	b.WriteString(";\n")
	for i, a := range args {
		enc, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode script argument %d: %w", i, err)
		}
		fmt.Fprintf(&b, "const a%d = %s;\n", i, enc)
	}
	b.WriteString(body)
	b.WriteString("\n})()")
	return b.String(), nil
}

// asyncScript is script for bodies that await.
func asyncScript(body string, args ...any) (string, error) {
	s, err := script(body, args...)
	if err != nil {
		return "", err
	}
	return strings.Replace(s, "(() => {", "(async () => {", 1), nil
}

const (
	queryJS       = `return am.q(a0);`
	outerHTMLJS   = `return am.el(a0).outerHTML;`
	innerHTMLJS   = `return am.el(a0).innerHTML;`
	clientWidthJS = `return am.el(a0).clientWidth;`
	focusJS       = `am.el(a0).focus(); return true;`
	setInnerJS    = `am.el(a0).innerHTML = a1; return true;`
	setValueJS    = `const el = am.el(a0);
const tag = el.tagName.toLowerCase();
if (tag === 'input' || tag === 'textarea') { el.value = a1; } else { el.textContent = a1; }
return true;`
	dispatchJS = `const el = am.el(a0);
for (const name of a1) {
  const ev = name.startsWith('key')
    ? new KeyboardEvent(name, { bubbles: true })
    : new Event(name, { bubbles: true });
  el.dispatchEvent(ev);
}
return true;`
	imagesJS = `return Array.from(am.el(a0).querySelectorAll('img'), (img) => ({
  ref: am.ref(img), naturalWidth: img.naturalWidth, complete: img.complete,
}));`
	styleImageJS = `const img = am.el(a0);
img.removeAttribute('width');
img.removeAttribute('height');
img.style.cssText = a1;
return true;`
)

// observerJS reports subtree changes through the binding, at most once per
// 50ms.
const observerJS = `(() => {
  if (window.__amObserver || typeof window.%[1]s !== 'function') return;
  let pending = false;
  window.__amObserver = new MutationObserver(() => {
    if (pending) return;
    pending = true;
    setTimeout(() => { pending = false; window.%[1]s(''); }, 50);
  });
  const start = () => window.__amObserver.observe(document.documentElement, { childList: true, subtree: true });
  if (document.documentElement) start(); else document.addEventListener('DOMContentLoaded', start);
})();`

// buttonJS adds the floating send button and puts it back when the page
// changes its URL or rebuilds its DOM.
const buttonJS = `(() => {
  if (window.__amButton) return;
  window.__amButton = true;
  const add = () => {
    if (!document.body || document.getElementById('uas-ext-btn')) return;
    const btn = document.createElement('button');
    btn.id = 'uas-ext-btn';
    btn.textContent = 'Send Article to Gmail';
    Object.assign(btn.style, {
      position: 'fixed', right: '20px', bottom: '20px', zIndex: 99999,
      padding: '8px 16px', background: '#348ceb', color: '#fff',
      fontWeight: 'bold', fontSize: '14px', borderRadius: '6px', border: 'none',
      boxShadow: '0 2px 6px rgba(0,0,0,0.15)', cursor: 'pointer', transition: 'all 0.2s ease',
    });
    btn.addEventListener('mouseenter', () => {
      Object.assign(btn.style, { background: '#2c7cd1', transform: 'translateY(-1px)', boxShadow: '0 3px 8px rgba(0,0,0,0.2)' });
    });
    btn.addEventListener('mouseleave', () => {
      Object.assign(btn.style, { background: '#348ceb', transform: 'translateY(0)', boxShadow: '0 2px 6px rgba(0,0,0,0.15)' });
    });
    btn.addEventListener('mousedown', () => { btn.style.transform = 'translateY(1px)'; });
    btn.addEventListener('mouseup', () => { btn.style.transform = 'translateY(-1px)'; });
    btn.onclick = () => window.%[1]s(location.href);
    document.body.appendChild(btn);
  };
  let last = location.href;
  setInterval(() => {
    if (location.href !== last) { last = location.href; add(); }
  }, %[2]d);
  const watch = () => {
    add();
    new MutationObserver(add).observe(document.body, { childList: true, subtree: true });
  };
  if (document.body) watch(); else document.addEventListener('DOMContentLoaded', watch);
})();`

const toastJS = `const el = document.createElement('div');
el.textContent = a0;
Object.assign(el.style, {
  position: 'fixed', left: '50%', bottom: '24px', transform: 'translateX(-50%)',
  zIndex: 100000, padding: '10px 18px', borderRadius: '6px', fontSize: '14px',
  color: '#fff', background: a1 ? '#2e7d32' : '#c62828', boxShadow: '0 2px 8px rgba(0,0,0,0.25)',
});
(document.body || document.documentElement).appendChild(el);
setTimeout(() => el.remove(), a2);
return true;`

const (
	clipboardRichJS = `const item = new ClipboardItem({
  'text/html': new Blob([a0], { type: 'text/html' }),
  'text/plain': new Blob([a1], { type: 'text/plain' }),
});
await navigator.clipboard.write([item]);
return true;`
	clipboardTextJS = `await navigator.clipboard.writeText(a0);
return true;`
	clipboardExecJS = `const ta = document.createElement('textarea');
ta.value = a0;
ta.style.position = 'fixed';
ta.style.opacity = '0';
document.body.appendChild(ta);
ta.select();
let ok = false;
try { ok = document.execCommand('copy'); } finally { ta.remove(); }
return ok;`
)

const openPopupJS = `return window.open(a0, 'uas_gmail_popup', a1) !== null;`

// popupFeatures is the window.open feature string for the compose popup.
func popupFeatures(width, height int) string {
	return fmt.Sprintf("popup,width=%d,height=%d,menubar=no,toolbar=no,location=no,status=no,resizable=yes,scrollbars=yes", width, height)
}
