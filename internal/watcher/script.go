// File: internal/watcher/script.go
package watcher

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsString safely embeds a Go string as a JavaScript string literal.
func jsString(s string) string {
	out, err := json.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return out
}

// buildPageScript renders the injected runtime for one page. Token
// substitution instead of fmt keeps the script free of verb escaping.
func buildPageScript(bindingName, selectorsJSON, containersJSON, placement string) string {
	s := strings.ReplaceAll(pageScript, "__BINDING__", bindingName)
	s = strings.ReplaceAll(s, "__SELECTORS__", selectorsJSON)
	s = strings.ReplaceAll(s, "__CONTAINERS__", containersJSON)
	return strings.ReplaceAll(s, "__PLACEMENT__", jsString(placement))
}

// pageScript is the in-page half of the watcher. It owns the
// MutationObserver and all affordance DOM; the Go side owns the
// classification and mode state machine and drives this runtime
// through window.__fitcheckUI. Events flow back over the binding as
// one JSON object per call.
const pageScript = `(() => {
  if (window.__fitcheckUI) { return; }

  const AUTO_HIDE_MS = 2500;
  const IMAGE_LEAVE_MS = 600;
  const BUTTON_LEAVE_MS = 250;

  const selectors = __SELECTORS__;
  const containers = __CONTAINERS__;
  const placement = __PLACEMENT__;

  const post = (msg) => {
    try { window.__BINDING__(JSON.stringify(msg)); } catch (e) {}
  };

  const snapshot = (img) => ({
    src: img.src || '',
    alt: img.alt || '',
    naturalWidth: img.naturalWidth || 0,
    naturalHeight: img.naturalHeight || 0,
    renderedWidth: img.offsetWidth || 0,
    renderedHeight: img.offsetHeight || 0,
    selectorHit: selectors.some((sel) => {
      try { return img.matches(sel); } catch (e) { return false; }
    })
  });

  const state = {
    mode: 'automatic',
    attached: new Set(),
    buttons: new Map(),
    clickHandlers: new Map(),
    hideTimers: new Map(),
    busy: new Set(),
    selection: null,
    observer: null
  };

  const findImage = (src) => {
    for (const img of document.querySelectorAll('img')) {
      if (img.src === src) { return img; }
    }
    return null;
  };

  const cancelHide = (src) => {
    const t = state.hideTimers.get(src);
    if (t) { clearTimeout(t); state.hideTimers.delete(src); }
  };

  const scheduleHide = (src, delay) => {
    cancelHide(src);
    state.hideTimers.set(src, setTimeout(() => {
      state.hideTimers.delete(src);
      const button = state.buttons.get(src);
      if (button) { button.style.display = 'none'; }
    }, delay));
  };

  const findContainer = (img) => {
    for (const sel of containers) {
      try {
        const c = img.closest(sel);
        if (c) { return c; }
      } catch (e) {}
    }
    return null;
  };

  // Returns true when the button floats over the image and needs
  // per-show coordinates.
  const mountButton = (img, button) => {
    if (placement === 'after' || placement === 'before') {
      const container = findContainer(img);
      if (container && container.parentNode) {
        button.style.margin = '8px 0';
        const anchor = placement === 'after' ? container.nextSibling : container;
        container.parentNode.insertBefore(button, anchor);
        return false;
      }
    }
    button.style.position = 'absolute';
    document.body.appendChild(button);
    return true;
  };

  const showButton = (img, button) => {
    button.style.display = 'block';
    if (button.dataset.fitcheckOverlay !== '1') { return; }
    const rect = img.getBoundingClientRect();
    button.style.left = (rect.right + window.pageXOffset - 130) + 'px';
    button.style.top = (rect.top + window.pageYOffset + 10) + 'px';
  };

  const attachHover = (src) => {
    if (state.buttons.has(src)) { return; }
    const img = findImage(src);
    if (!img) { return; }

    const button = document.createElement('button');
    button.className = 'fitcheck-hover-button';
    button.textContent = 'Try On';
    button.style.cssText = 'background:#667eea;color:white;' +
      'border:none;padding:8px 14px;border-radius:20px;font-size:12px;' +
      'font-weight:600;cursor:pointer;z-index:10000;display:none;white-space:nowrap;';
    if (mountButton(img, button)) { button.dataset.fitcheckOverlay = '1'; }
    state.buttons.set(src, button);

    img.addEventListener('mouseenter', () => {
      cancelHide(src);
      showButton(img, button);
      scheduleHide(src, AUTO_HIDE_MS);
    });
    img.addEventListener('mouseleave', () => scheduleHide(src, IMAGE_LEAVE_MS));
    button.addEventListener('mouseenter', () => cancelHide(src));
    button.addEventListener('mouseleave', () => scheduleHide(src, BUTTON_LEAVE_MS));

    button.addEventListener('click', (e) => {
      e.preventDefault();
      e.stopPropagation();
      if (state.busy.has(src)) { return; }
      state.busy.add(src);
      button.disabled = true;
      button.textContent = 'Processing...';
      post({ type: 'tryon', src: src });
    });
  };

  const removeHover = (src) => {
    cancelHide(src);
    const button = state.buttons.get(src);
    if (button) { button.remove(); state.buttons.delete(src); }
  };

  const attachClick = (src) => {
    if (state.clickHandlers.has(src)) { return; }
    const img = findImage(src);
    if (!img) { return; }

    const handler = (e) => {
      e.preventDefault();
      e.stopPropagation();
      if (state.selection) {
        const prev = findImage(state.selection);
        if (prev) { prev.style.outline = ''; }
      }
      state.selection = src;
      img.style.outline = '2px solid #007bff';
      post({ type: 'selected', image: snapshot(img) });
    };

    img.addEventListener('click', handler);
    img.style.cursor = 'pointer';
    state.clickHandlers.set(src, handler);
  };

  const removeClick = (src) => {
    const handler = state.clickHandlers.get(src);
    if (!handler) { return; }
    const img = findImage(src);
    if (img) {
      img.removeEventListener('click', handler);
      img.style.cursor = '';
      img.style.outline = '';
    }
    state.clickHandlers.delete(src);
  };

  window.__fitcheckUI = {
    collect: () => {
      const out = [];
      document.querySelectorAll('img').forEach((img) => out.push(snapshot(img)));
      return out;
    },

    attach: (src) => {
      state.attached.add(src);
      if (state.mode === 'manual') { attachClick(src); } else { attachHover(src); }
    },

    setMode: (mode) => {
      if (mode === state.mode) { return; }
      state.mode = mode;
      if (mode === 'manual') {
        for (const src of state.buttons.keys()) { removeHover(src); }
        for (const src of state.attached) { attachClick(src); }
      } else {
        for (const src of state.clickHandlers.keys()) { removeClick(src); }
        state.selection = null;
        for (const src of state.attached) { attachHover(src); }
      }
    },

    clearSelection: () => {
      if (!state.selection) { return; }
      const img = findImage(state.selection);
      if (img) { img.style.outline = ''; }
      state.selection = null;
    },

    restore: (src) => {
      state.busy.delete(src);
      const button = state.buttons.get(src);
      if (button) {
        button.disabled = false;
        button.textContent = 'Try On';
      }
    },

    stop: () => {
      if (state.observer) { state.observer.disconnect(); state.observer = null; }
      for (const t of state.hideTimers.values()) { clearTimeout(t); }
      state.hideTimers.clear();
      for (const src of state.buttons.keys()) { removeHover(src); }
      for (const src of state.clickHandlers.keys()) { removeClick(src); }
      state.attached.clear();
    }
  };

  state.observer = new MutationObserver((mutations) => {
    const batch = [];
    for (const mutation of mutations) {
      if (mutation.type !== 'childList') { continue; }
      for (const node of mutation.addedNodes) {
        if (node.nodeType !== Node.ELEMENT_NODE) { continue; }
        if (node.tagName === 'IMG') {
          batch.push(snapshot(node));
        } else if (node.querySelectorAll) {
          node.querySelectorAll('img').forEach((img) => batch.push(snapshot(img)));
        }
      }
    }
    if (batch.length > 0) { post({ type: 'images', images: batch }); }
  });
  state.observer.observe(document.body, { childList: true, subtree: true });

  return true;
})();`
